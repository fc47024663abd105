package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"regapi/internal/app"
	"regapi/internal/config"
	"regapi/internal/schema"
	"regapi/internal/storage"
	storeMocks "regapi/internal/storage/mocks"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

// fileOpener returns an Opener over a flat-file data root shared by every call.
func fileOpener(t *testing.T, exporter func() *storage.Exporter) (Opener, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "data")
	cfg := &config.AppConfig{Storage: config.StorageConfig{Backend: "filesystem", DataRoot: root}}
	return func(ctx context.Context) (*app.App, error) {
		a, err := app.New(ctx, cfg, zap.NewNop())
		if err != nil {
			return nil, err
		}
		if exporter != nil {
			a.Exporter = exporter()
		}
		return a, nil
	}, root
}

func seedPayments(t *testing.T, open Opener) {
	t.Helper()
	ctx := context.Background()
	a, err := open(ctx)
	require.NoError(t, err)
	defer a.Close(ctx)
	repo, err := a.Factory.GetRepository(ctx, "Payment", "payment")
	require.NoError(t, err)
	for _, p := range []schema.Record{
		{"orderNo": "A", "amount": 10.0, "status": "paid"},
		{"orderNo": "B", "amount": 20.0, "status": "paid"},
		{"orderNo": "C", "amount": 5.0},
	} {
		_, err := repo.Create(ctx, p)
		require.NoError(t, err)
	}
}

func run(open Opener, args ...string) (string, error) {
	var buf bytes.Buffer
	root := NewRootCmd(open)
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestCount(t *testing.T) {
	open, _ := fileOpener(t, nil)
	seedPayments(t, open)

	out, err := run(open, "count", "payment", "Payment")
	require.NoError(t, err)
	assert.Equal(t, "3\n", out)

	out, err = run(open, "count", "payment", "Payment", "--where", "status=paid", "-w", "amount=20")
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)
}

func TestFind(t *testing.T) {
	open, _ := fileOpener(t, nil)

	out, err := run(open, "find", "payment", "Payment")
	require.NoError(t, err)
	assert.Equal(t, "No records found.\n", out)

	seedPayments(t, open)
	out, err = run(open, "find", "payment", "Payment", "--sort", "-amount", "--limit", "2")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Regexp(t, `^ID\s+AMOUNT\s+CHANNEL\s+CURRENCY\s+ORDERNO`, lines[0])
	assert.Regexp(t, `^\S+\s+20\.00\s+-\s+CNY\s+B\s`, lines[1])
	assert.Regexp(t, `^\S+\s+10\.00\s+-\s+CNY\s+A\s`, lines[2])
	assert.Equal(t, "page 1/2, 3 total", lines[3])
}

func TestStats(t *testing.T) {
	open, _ := fileOpener(t, nil)
	seedPayments(t, open)

	out, err := run(open, "stats", "payment", "Payment", "--group", "status", "--sum", "amount")
	require.NoError(t, err)
	assert.Regexp(t, `paid\s+2\s+30\.00\s+15\.00`, out)
	assert.Regexp(t, `pending\s+1\s+5\.00\s+5\.00`, out)

	_, err = run(open, "stats", "payment", "Payment")
	assert.EqualError(t, err, "--group is required")
}

func TestCommandErrors(t *testing.T) {
	open, _ := fileOpener(t, nil)

	tests := []struct {
		name string
		args []string
		is   error
		msg  string
	}{
		{name: "unknown entity", args: []string{"count", "payment", "Invoice"}, is: schema.ErrUnknownEntity},
		{name: "unknown filter field", args: []string{"count", "payment", "Payment", "-w", "colour=red"}, is: schema.ErrValidation},
		{name: "malformed filter", args: []string{"find", "payment", "Payment", "-w", "status"}, msg: `invalid --where "status", want field=value`},
		{name: "export without object storage", args: []string{"export", "payment", "Payment"}, is: errExportUnavailable},
		{name: "import without object storage", args: []string{"import", "payment", "Payment", "m.json"}, is: errExportUnavailable},
		{name: "missing args", args: []string{"find", "payment"}, msg: "accepts 2 arg(s), received 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(open, tt.args...)
			require.Error(t, err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
			if tt.msg != "" {
				assert.EqualError(t, err, tt.msg)
			}
		})
	}
}

func TestExport(t *testing.T) {
	store := new(storeMocks.MockObjectStore)
	store.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(storage.Object{}, nil)
	store.On("DownloadURL", mock.Anything, mock.Anything, mock.Anything).Return("https://objects.local/manifest", nil)

	open, _ := fileOpener(t, func() *storage.Exporter { return storage.NewExporter(store, zap.NewNop()) })
	seedPayments(t, open)

	out, err := run(open, "export", "payment", "Payment")
	require.NoError(t, err)
	assert.Contains(t, out, "Exported 3 records to exports/payments/")
	assert.Contains(t, out, "Download: https://objects.local/manifest")
	// three records plus the manifest
	store.AssertNumberOfCalls(t, "Put", 4)
}

func TestTables(t *testing.T) {
	out, err := run(nil, "tables")
	require.NoError(t, err)
	assert.Contains(t, out, `CREATE TABLE IF NOT EXISTS "payments"`)
	assert.Contains(t, out, `CREATE TABLE IF NOT EXISTS "registrations"`)
	assert.Contains(t, out, `"orderNo" VARCHAR(32) NOT NULL UNIQUE`)

	out, err = run(nil, "tables", "payment", "Payment")
	require.NoError(t, err)
	assert.Contains(t, out, "-- payment/Payment (payments)")
	assert.NotContains(t, out, "registrations")

	_, err = run(nil, "tables", "payment")
	assert.EqualError(t, err, "accepts 0 or 2 arg(s), received 1")

	_, err = run(nil, "tables", "payment", "Invoice")
	assert.ErrorIs(t, err, schema.ErrUnknownEntity)
}
