package validation_test

import (
	"context"
	"testing"
	"time"

	"epireport/internal/model"
	"epireport/internal/storage"
	"epireport/internal/storage/storagetest"
	"epireport/internal/validation"
)

func TestCollectorOfAnotherSocietyIsRejected(t *testing.T) {
	ctx := context.Background()
	st := storagetest.Open(t)
	f := storagetest.Fixtures(nil)
	f.NationalSocieties = append(f.NationalSocieties, model.NationalSociety{ID: 2, Name: "Other NS", LanguageCode: "fr"})
	f.Gateways = append(f.Gateways, model.GatewaySetting{ID: 2, APIKey: "other-key", GatewayType: model.GatewaySmsEagle, NationalSocietyID: 2})
	f.DataCollectors[0].NationalSocietyID = 2
	if err := st.Seed(ctx, f); err != nil {
		t.Fatalf("seed: %v", err)
	}

	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	v := validation.New(validation.Options{Now: func() time.Time { return now }})
	validate := func(apiKey string) validation.Outcome {
		var out validation.Outcome
		err := st.InTx(ctx, func(tx storage.Tx) error {
			out = v.Validate(ctx, tx, model.GatewayPayload{
				Sender:    storagetest.Phone,
				Timestamp: "20240310115500",
				Text:      "3#1#1",
				APIKey:    apiKey,
			})
			return nil
		})
		if err != nil {
			t.Fatalf("tx: %v", err)
		}
		return out
	}

	out := validate("other-key")
	if out.OK() {
		t.Fatalf("collector of project %d accepted through gateway of another society", out.Context.DataCollector.ProjectID)
	}
	if out.Failure.Kind != model.ErrorDataCollectorNotFound {
		t.Fatalf("kind = %s, want %s", out.Failure.Kind, model.ErrorDataCollectorNotFound)
	}

	if out := validate(storagetest.APIKey); !out.OK() {
		t.Fatalf("own society gateway rejected: %v", out.Failure)
	}
}
