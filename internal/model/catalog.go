// Package model declares the entities of the registration/payment domain.
package model

import "regapi/internal/schema"

// NewCatalog returns a catalog holding every entity this service stores.
func NewCatalog() (*schema.Catalog, error) {
	return schema.NewCatalog(Registration, Payment)
}
