package services

import (
	"context"
	"testing"

	"github.com/SAP-F-2025/attempt-tracking-service/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityResolver_Resolve(t *testing.T) {
	repo := newFakeRepository()
	repo.addStudent(&models.Student{ID: "S1", FullName: "Ben", Email: "ben@example.com", LRN: strPtr("100000000001"), IsActive: true})
	repo.addStudent(&models.Student{ID: "S2", FullName: "Cy", Email: "cy@example.com", LRN: strPtr("100000000002"), IsActive: false})
	resolver := NewIdentityResolver(repo.Student(), testLogger())

	tests := []struct {
		name    string
		input   IdentityInput
		want    *string
		wantErr func(error) bool
	}{
		{
			name:  "authenticated user",
			input: IdentityInput{UserID: "U1", InteractionType: models.InteractionStandaloneExam},
			want:  strPtr("U1"),
		},
		{
			name:  "authenticated user equal to body student",
			input: IdentityInput{UserID: "U1", StudentID: strPtr(" U1 "), InteractionType: models.InteractionAssignment},
			want:  strPtr("U1"),
		},
		{
			name:    "authenticated user differs from body student",
			input:   IdentityInput{UserID: "U1", StudentID: strPtr("U2"), InteractionType: models.InteractionAssignment},
			wantErr: IsBusinessRule,
		},
		{
			name:  "explicit student beats LRN",
			input: IdentityInput{StudentID: strPtr("S9"), LRN: strPtr("100000000001"), InteractionType: models.InteractionPracticeQuiz},
			want:  strPtr("S9"),
		},
		{
			name:  "LRN lookup",
			input: IdentityInput{LRN: strPtr("100000000001"), InteractionType: models.InteractionStandaloneExam},
			want:  strPtr("S1"),
		},
		{
			name:    "inactive LRN on an exam",
			input:   IdentityInput{LRN: strPtr("100000000002"), InteractionType: models.InteractionStandaloneExam},
			wantErr: IsValidation,
		},
		{
			name:  "unknown LRN on a public form stays anonymous",
			input: IdentityInput{LRN: strPtr("999"), InteractionType: models.InteractionPublicForm},
		},
		{
			name:  "blank student on a public form",
			input: IdentityInput{StudentID: strPtr("   "), InteractionType: models.InteractionPublicForm},
		},
		{
			name:    "nothing on a practice quiz",
			input:   IdentityInput{InteractionType: models.InteractionPracticeQuiz},
			wantErr: IsValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolver.Resolve(context.Background(), tt.input)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, tt.wantErr(err), err.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
