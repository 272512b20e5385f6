// Package contract holds reusable checks every Gateway implementation must pass.
package contract

import (
	"context"
	"testing"

	"ekyc/internal/evidence/providers"
)

// DocumentTest checks one OCR call.
type DocumentTest struct {
	Name         string
	Kind         providers.DocumentKind
	Image        providers.Media
	ValidateFunc func(e *providers.DocumentExtraction) error
}

// LivenessTest checks one liveness call.
type LivenessTest struct {
	Name         string
	Kind         providers.MediaKind
	Media        providers.Media
	ValidateFunc func(r *providers.LivenessResult) error
}

// ContractSuite is a collection of contract tests for a gateway
type ContractSuite struct {
	Gateway       providers.Gateway
	DocumentTests []DocumentTest
	LivenessTests []LivenessTest
}

// Run executes all contract tests in the suite
func (s *ContractSuite) Run(t *testing.T) {
	for _, test := range s.DocumentTests {
		t.Run(test.Name, func(t *testing.T) {
			got, err := s.Gateway.ExtractDocument(context.Background(), test.Kind, test.Image)
			if err != nil {
				t.Fatalf("extract document failed: %v", err)
			}
			if got.ProviderID == "" {
				t.Error("ProviderID not set")
			}
			if got.Confidence < 0 || got.Confidence > 1.0 {
				t.Errorf("confidence %f out of range [0, 1]", got.Confidence)
			}
			if got.Fields == nil {
				t.Error("Fields must be non-nil")
			}
			if got.CheckedAt.IsZero() {
				t.Error("CheckedAt not set")
			}
			if test.ValidateFunc != nil {
				if err := test.ValidateFunc(got); err != nil {
					t.Errorf("custom validation failed: %v", err)
				}
			}
		})
	}

	for _, test := range s.LivenessTests {
		t.Run(test.Name, func(t *testing.T) {
			got, err := s.Gateway.ScoreLiveness(context.Background(), test.Kind, test.Media)
			if err != nil {
				t.Fatalf("score liveness failed: %v", err)
			}
			if got.ProviderID == "" {
				t.Error("ProviderID not set")
			}
			if got.Confidence < 0 || got.Confidence > 1.0 {
				t.Errorf("confidence %f out of range [0, 1]", got.Confidence)
			}
			if got.LivenessScore < 0 || got.LivenessScore > 1.0 {
				t.Errorf("liveness score %f out of range [0, 1]", got.LivenessScore)
			}
			if got.CheckedAt.IsZero() {
				t.Error("CheckedAt not set")
			}
			if test.ValidateFunc != nil {
				if err := test.ValidateFunc(got); err != nil {
					t.Errorf("custom validation failed: %v", err)
				}
			}
		})
	}
}

// ErrorContractTest validates that gateway errors follow the taxonomy
type ErrorContractTest struct {
	Name          string
	Call          func(ctx context.Context, g providers.Gateway) error
	ExpectedError providers.ErrorCategory
	ExpectedRetry bool
}

// Run executes an error contract test
func (ect *ErrorContractTest) Run(t *testing.T, g providers.Gateway) {
	t.Run(ect.Name, func(t *testing.T) {
		err := ect.Call(context.Background(), g)
		if err == nil {
			t.Fatal("expected error but got none")
		}
		if category := providers.GetCategory(err); category != ect.ExpectedError {
			t.Errorf("expected error category %s, got %s", ect.ExpectedError, category)
		}
		if retry := providers.IsRetryable(err); retry != ect.ExpectedRetry {
			t.Errorf("expected retryable=%v, got %v", ect.ExpectedRetry, retry)
		}
	})
}
