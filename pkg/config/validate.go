package config

import (
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/pario-ai/stagegate/pkg/models"
)

// ErrInvalidConfig wraps every validation failure returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Validate checks value ranges and cross-field constraints.
func (c *Config) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.Log),
		validation.Field(&c.Cache),
		validation.Field(&c.AutoRouting),
		validation.Field(&c.Budget),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Validate implements validation.Validatable.
func (l LogConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.In("trace", "debug", "info", "warn", "warning", "error")),
		validation.Field(&l.Format, validation.In("text", "json")),
	)
}

// Validate implements validation.Validatable.
func (c CacheConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.TTL, validation.Min(0).Error("must not be negative")),
		validation.Field(&c.SimilarityThreshold,
			validation.Required.Error("must be greater than 0"), validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&c.SimilarityModel, validation.Required, validation.In("hashing", "confidence", "openai")),
		validation.Field(&c.EmbedTimeout, validation.Min(0).Error("must not be negative")),
		validation.Field(&c.Dimensions, validation.Min(0)),
	)
}

// Validate implements validation.Validatable.
func (r RoutingConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Bands),
		validation.Field(&r.ApprovalRateThreshold, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&r.ApprovalWindow, validation.Min(0).Error("must not be negative")),
		validation.Field(&r.Stage2AutoApprove, validation.By(validateAutoApproveBands)),
	)
}

// Validate implements validation.Validatable. Thresholds must increase strictly.
func (b BandThresholds) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.Moderate, validation.Required, validation.Min(1)),
		validation.Field(&b.Complex, validation.Required, validation.Min(b.Moderate+1).Error("must be greater than moderate")),
		validation.Field(&b.VeryComplex, validation.Required, validation.Min(b.Complex+1).Error("must be greater than complex")),
	)
}

// Validate implements validation.Validatable.
func (b BudgetConfig) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.Policies, validation.Each(validation.By(validatePolicy))),
	)
}

func validateAutoApproveBands(value any) error {
	m, _ := value.(map[models.Band]bool)
	for band := range m {
		if band != models.BandModerate && band != models.BandComplex {
			return fmt.Errorf("band %q has no auto-approval gate", band)
		}
	}
	return nil
}

func validatePolicy(value any) error {
	p, ok := value.(models.BudgetPolicy)
	if !ok {
		return errors.New("not a budget policy")
	}
	return validation.ValidateStruct(&p,
		validation.Field(&p.MaxTokens, validation.Required, validation.Min(int64(1))),
		validation.Field(&p.Period, validation.Required, validation.In(models.BudgetDaily, models.BudgetMonthly)),
		validation.Field(&p.Band, validation.By(func(v any) error {
			b, _ := v.(models.Band)
			if b == "" {
				return nil
			}
			if _, ok := models.ParseBand(string(b)); !ok {
				return fmt.Errorf("unknown band %q", b)
			}
			return nil
		})),
	)
}
