package handler

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"regapi/internal/repository"
	"regapi/internal/schema"
)

// RepositorySource resolves entity names to repositories. *factory.Factory implements it.
type RepositorySource interface {
	Catalog() *schema.Catalog
	GetRepository(ctx context.Context, name, domain string) (repository.Repository, error)
}

// Query parameters with a fixed meaning; every other parameter is an equality filter.
var reservedParams = map[string]bool{
	"page": true, "limit": true, "sort": true,
	"group": true, "count": true, "sum": true, "avg": true,
	"field": true, "start": true, "end": true,
}

// resolve looks up the entity and repository named by the :domain and :entity params.
func resolve(c *fiber.Ctx, src RepositorySource) (*schema.Entity, repository.Repository, error) {
	domain, name := c.Params("domain"), c.Params("entity")
	e, err := src.Catalog().Lookup(domain, name)
	if err != nil {
		return nil, nil, err
	}
	repo, err := src.GetRepository(c.UserContext(), name, domain)
	if err != nil {
		return nil, nil, err
	}
	return e, repo, nil
}

// filterQuery builds an equality query from the non-reserved query parameters.
func filterQuery(c *fiber.Ctx, e *schema.Entity) (schema.Query, error) {
	raw := make(map[string]string)
	for key, v := range c.Queries() {
		if !reservedParams[key] {
			raw[key] = v
		}
	}
	return e.ParseFilter(raw)
}

// parseBody decodes a JSON object body; anything else is rejected.
func parseBody(c *fiber.Ctx) (schema.Record, bool) {
	var rec schema.Record
	if err := json.Unmarshal(c.Body(), &rec); err != nil || rec == nil {
		return nil, false
	}
	return rec, true
}

func invalidBody(c *fiber.Ctx) error {
	return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "request body must be a JSON object")
}

// ListRecords serves GET /api/:domain/:entity as a paginated find.
func ListRecords(src RepositorySource) fiber.Handler {
	return func(c *fiber.Ctx) error {
		page, err := strconv.Atoi(c.Query("page", "1"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_PAGE", "invalid page")
		}
		limit, err := strconv.Atoi(c.Query("limit", strconv.Itoa(repository.DefaultPageLimit)))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_LIMIT", "invalid limit")
		}

		e, repo, err := resolve(c, src)
		if err != nil {
			return writeServiceError(c, err)
		}
		q, err := filterQuery(c, e)
		if err != nil {
			return writeServiceError(c, err)
		}

		res, err := repo.Paginate(c.UserContext(), q, page, limit, schema.ParseSort(c.Query("sort")))
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(res)
	}
}

// CreateRecord serves POST /api/:domain/:entity.
func CreateRecord(src RepositorySource) fiber.Handler {
	return func(c *fiber.Ctx) error {
		_, repo, err := resolve(c, src)
		if err != nil {
			return writeServiceError(c, err)
		}
		data, ok := parseBody(c)
		if !ok {
			return invalidBody(c)
		}
		rec, err := repo.Create(c.UserContext(), data)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(rec)
	}
}

// GetRecord serves GET /api/:domain/:entity/:id.
func GetRecord(src RepositorySource) fiber.Handler {
	return func(c *fiber.Ctx) error {
		_, repo, err := resolve(c, src)
		if err != nil {
			return writeServiceError(c, err)
		}
		rec, err := repo.FindByID(c.UserContext(), c.Params("id"))
		if err != nil {
			return writeServiceError(c, err)
		}
		if rec == nil {
			return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "record not found")
		}
		return c.JSON(rec)
	}
}

// UpdateRecord serves PATCH /api/:domain/:entity/:id; the body is merged into the record.
func UpdateRecord(src RepositorySource) fiber.Handler {
	return func(c *fiber.Ctx) error {
		_, repo, err := resolve(c, src)
		if err != nil {
			return writeServiceError(c, err)
		}
		patch, ok := parseBody(c)
		if !ok {
			return invalidBody(c)
		}
		rec, err := repo.UpdateByID(c.UserContext(), c.Params("id"), patch)
		if err != nil {
			return writeServiceError(c, err)
		}
		if rec == nil {
			return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "record not found")
		}
		return c.JSON(rec)
	}
}

// DeleteRecord serves DELETE /api/:domain/:entity/:id.
func DeleteRecord(src RepositorySource) fiber.Handler {
	return func(c *fiber.Ctx) error {
		_, repo, err := resolve(c, src)
		if err != nil {
			return writeServiceError(c, err)
		}
		rec, err := repo.DeleteByID(c.UserContext(), c.Params("id"))
		if err != nil {
			return writeServiceError(c, err)
		}
		if rec == nil {
			return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "record not found")
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// RecordStats serves GET /api/:domain/:entity/stats?group=a,b&sum=f&avg=f&count=f.
func RecordStats(src RepositorySource) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var groups []string
		for _, g := range strings.Split(c.Query("group"), ",") {
			if g = strings.TrimSpace(g); g != "" {
				groups = append(groups, g)
			}
		}
		if len(groups) == 0 {
			return writeError(c, fiber.StatusBadRequest, "INVALID_GROUP", "group is required")
		}

		e, repo, err := resolve(c, src)
		if err != nil {
			return writeServiceError(c, err)
		}
		q, err := filterQuery(c, e)
		if err != nil {
			return writeServiceError(c, err)
		}

		stats, err := repo.GroupStatistics(c.UserContext(), groups, repository.GroupOptions{
			CountField: c.Query("count"),
			SumField:   c.Query("sum"),
			AvgField:   c.Query("avg"),
			Query:      q,
		})
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(fiber.Map{"data": stats})
	}
}

// RecordRange serves GET /api/:domain/:entity/range?field=f&start=t[&end=t]. The range
// is inclusive; end is optional.
func RecordRange(src RepositorySource) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start, ok := schema.ParseTime(c.Query("start"))
		if !ok {
			return writeError(c, fiber.StatusBadRequest, "INVALID_DATE", "start must be a date")
		}
		var end *time.Time
		if raw := c.Query("end"); raw != "" {
			t, ok := schema.ParseTime(raw)
			if !ok {
				return writeError(c, fiber.StatusBadRequest, "INVALID_DATE", "end must be a date")
			}
			end = &t
		}

		e, repo, err := resolve(c, src)
		if err != nil {
			return writeServiceError(c, err)
		}
		q, err := filterQuery(c, e)
		if err != nil {
			return writeServiceError(c, err)
		}

		recs, err := repo.FindByDateRange(c.UserContext(), c.Query("field", schema.FieldCreatedAt), start, end, q)
		if err != nil {
			return writeServiceError(c, err)
		}
		if recs == nil {
			recs = []schema.Record{}
		}
		return c.JSON(fiber.Map{"data": recs})
	}
}
