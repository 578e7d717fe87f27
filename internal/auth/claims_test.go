package auth

import (
	"reflect"
	"testing"
)

func TestRoleSetClaimShapes(t *testing.T) {
	tests := []struct {
		name   string
		claims map[string]any
		want   []string
	}{
		{
			name:   "structured list",
			claims: map[string]any{"roles": []any{"Admin", "Teacher"}},
			want:   []string{"admin", "teacher"},
		},
		{
			name:   "string slice",
			claims: map[string]any{"roles": []string{"student"}},
			want:   []string{"student"},
		},
		{
			name:   "single string",
			claims: map[string]any{"role": "Teacher"},
			want:   []string{"teacher"},
		},
		{
			name:   "comma delimited",
			claims: map[string]any{"roles": "admin,teacher, student"},
			want:   []string{"admin", "teacher", "student"},
		},
		{
			name:   "space delimited",
			claims: map[string]any{"groups": "admin teacher"},
			want:   []string{"admin", "teacher"},
		},
		{
			name:   "provider group claim",
			claims: map[string]any{"cognito:groups": []any{"Staff"}},
			want:   []string{"staff"},
		},
		{
			name: "duplicates across claims collapse",
			claims: map[string]any{
				"roles":  []any{"admin"},
				"groups": "Admin, teacher",
			},
			want: []string{"admin", "teacher"},
		},
		{
			name:   "non-string entries ignored",
			claims: map[string]any{"roles": []any{42, "teacher", nil}},
			want:   []string{"teacher"},
		},
		{
			name:   "no role claims",
			claims: map[string]any{"sub": "user-1"},
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RoleSet(tt.claims)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("RoleSet() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalizeRoles(t *testing.T) {
	got := NormalizeRoles([]string{" Admin ", "admin", "", "Teacher"})
	want := []string{"admin", "teacher"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("NormalizeRoles() = %v, want %v", got, want)
	}
	if NormalizeRoles(nil) != nil {
		t.Fatal("NormalizeRoles(nil) should be nil")
	}
}
