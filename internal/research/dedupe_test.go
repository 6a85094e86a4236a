package research

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/signalcore/evidence-engine/internal/model"
)

func ev(id, vendor, req string, s model.Strength) model.Evidence {
	return model.Evidence{ID: id, VendorID: vendor, RequirementID: req, Strength: s}
}

func TestDedupe(t *testing.T) {
	tests := []struct {
		name string
		in   []model.Evidence
		want []string
	}{
		{
			name: "empty",
			in:   nil,
			want: []string{},
		},
		{
			name: "strong wins",
			in: []model.Evidence{
				ev("a", "v", "r", model.StrengthWeak),
				ev("b", "v", "r", model.StrengthStrong),
				ev("c", "v", "r", model.StrengthModerate),
			},
			want: []string{"b"},
		},
		{
			name: "tie keeps earliest",
			in: []model.Evidence{
				ev("a", "v", "r", model.StrengthModerate),
				ev("b", "v", "r", model.StrengthModerate),
			},
			want: []string{"a"},
		},
		{
			name: "pairs keep first-seen order",
			in: []model.Evidence{
				ev("a", "v", "r2", model.StrengthWeak),
				ev("b", "v", "r1", model.StrengthWeak),
				ev("c", "w", "r1", model.StrengthWeak),
				ev("d", "v", "r2", model.StrengthStrong),
			},
			want: []string{"d", "b", "c"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Dedupe(tt.in)
			ids := make([]string, 0, len(got))
			for _, e := range got {
				ids = append(ids, e.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestDedupe_DoesNotMutateInput(t *testing.T) {
	in := []model.Evidence{
		ev("a", "v", "r", model.StrengthWeak),
		ev("b", "v", "r", model.StrengthStrong),
	}
	Dedupe(in)
	assert.Equal(t, "a", in[0].ID)
	assert.Equal(t, "b", in[1].ID)
}
