package settings

import "context"

// Company holds the per-tenant settings the pipeline reads on every update.
type Company struct {
	Features      map[string]any `json:"features,omitempty"`
	DefaultLocale string         `json:"defaultLocale,omitempty"`
}

// Store loads company settings. A company without a row yields zero
// settings, not an error.
type Store interface {
	Load(ctx context.Context, companyID string) (Company, error)
}
