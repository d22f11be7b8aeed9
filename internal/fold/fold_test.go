package fold

import "testing"

func TestString(t *testing.T) {
	cases := map[string]string{
		"LISTA DE CONVERSACIÓN": "lista de conversacion",
		"  Chat   list ":        "chat list",
		"Übersicht":             "ubersicht",
		"":                      "",
	}
	for in, want := range cases {
		if got := String(in); got != want {
			t.Errorf("String(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestContainsAny(t *testing.T) {
	needles := All([]string{"lista de chats", "chat list"})
	if !ContainsAny("Lista de Chats recientes", needles) {
		t.Error("expected match")
	}
	if ContainsAny("Composer", needles) {
		t.Error("unexpected match")
	}
}
