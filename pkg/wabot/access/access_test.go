package access

import "testing"

func TestNormalizeID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"923001234567@c.us", "923001234567@s.whatsapp.net"},
		{"923001234567@s.whatsapp.net", "923001234567@s.whatsapp.net"},
		{"923001234567:14@s.whatsapp.net", "923001234567@s.whatsapp.net"},
		{"+92 300 1234567", "923001234567@s.whatsapp.net"},
		{"  923001234567  ", "923001234567@s.whatsapp.net"},
		{"120363000000000000@g.us", "120363000000000000@g.us"},
		{"", ""},
		{"abc", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := NormalizeID(tt.in); got != tt.want {
				t.Errorf("NormalizeID(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestGate(t *testing.T) {
	g := NewGate([]string{"923001234567@c.us"}, nil)

	t.Run("admin matches across servers", func(t *testing.T) {
		if !g.IsAdmin("923001234567@s.whatsapp.net") {
			t.Error("expected admin to match s.whatsapp.net form")
		}
		if !g.IsAdmin("923001234567:3@s.whatsapp.net") {
			t.Error("expected admin to match device form")
		}
	})

	t.Run("non admin rejected", func(t *testing.T) {
		if g.IsAdmin("923009999999@s.whatsapp.net") {
			t.Error("expected non-admin to be rejected")
		}
		if g.IsAdmin("") {
			t.Error("expected empty sender to be rejected")
		}
	})

	t.Run("group admin action requires a group", func(t *testing.T) {
		if g.IsGroupAdminAction(false, "923001234567@c.us") {
			t.Error("expected admin outside a group to be rejected")
		}
		if !g.IsGroupAdminAction(true, "923001234567@c.us") {
			t.Error("expected admin inside a group to be accepted")
		}
		if g.IsGroupAdminAction(true, "923009999999@c.us") {
			t.Error("expected non-admin inside a group to be rejected")
		}
	})

	t.Run("allows by level", func(t *testing.T) {
		if !g.Allows(LevelNone, false, "anyone@s.whatsapp.net") {
			t.Error("LevelNone should allow anyone")
		}
		if g.Allows(LevelAdmin, true, "923009999999@c.us") {
			t.Error("LevelAdmin should reject non-admin")
		}
		if !g.Allows(LevelGroupAdmin, true, "923001234567@c.us") {
			t.Error("LevelGroupAdmin should allow admin in group")
		}
	})

	t.Run("no admins configured", func(t *testing.T) {
		empty := NewGate(nil, nil)
		if empty.IsAdmin("923001234567@c.us") {
			t.Error("expected nobody to be admin")
		}
		if len(empty.Admins()) != 0 {
			t.Error("expected no admins")
		}
	})
}
