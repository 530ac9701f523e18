package artifact

import (
	"context"
	"errors"
	"fmt"

	"wattsup/internal/billing"
	"wattsup/internal/intent"
)

// LoadBillModel fetches and decodes the regression export. A missing
// artifact returns a nil model and no error.
func LoadBillModel(ctx context.Context, src Source, name string) (billing.Regressor, error) {
	data, err := src.Load(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m, err := billing.DecodeLinearModel(data)
	if err != nil {
		return nil, fmt.Errorf("artifact: %s: %w", name, err)
	}
	return m, nil
}

// LoadClassifier fetches and decodes the intent classifier export. The
// classifier is required, so a missing artifact is an error.
func LoadClassifier(ctx context.Context, src Source, name string) (*intent.Classifier, error) {
	data, err := src.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	c, err := intent.DecodeClassifier(data)
	if err != nil {
		return nil, fmt.Errorf("artifact: %s: %w", name, err)
	}
	return c, nil
}
