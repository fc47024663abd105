package handler

import (
	"context"
	"path/filepath"

	"github.com/gofiber/fiber/v2"

	"regapi/internal/storage"
)

// CollectionExporter copies a collection directory to object storage.
type CollectionExporter interface {
	Export(ctx context.Context, dir, collection string) (*storage.ExportResult, error)
}

// ExportCollection serves POST /admin/export/:domain/:entity. It is only available with
// the filesystem backend and a configured object store; otherwise ex is nil and the
// route answers 501.
func ExportCollection(src RepositorySource, ex CollectionExporter, dataRoot string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if ex == nil {
			return writeError(c, fiber.StatusNotImplemented, "EXPORT_UNAVAILABLE", "export requires the filesystem backend and object storage")
		}
		e, err := src.Catalog().Lookup(c.Params("domain"), c.Params("entity"))
		if err != nil {
			return writeServiceError(c, err)
		}
		collection := e.StorageName()
		res, err := ex.Export(c.UserContext(), filepath.Join(dataRoot, collection), collection)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(res)
	}
}
