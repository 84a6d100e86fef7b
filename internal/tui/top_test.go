package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/swaplab/swapd/internal/engine"
)

func TestStatusMsgUpdatesModel(t *testing.T) {
	m := NewModel()
	st := &engine.Status{
		PID:   42,
		Cores: 2,
		Workers: []engine.WorkerStatus{
			{ID: 0, Iterations: 10},
			{ID: 1, Iterations: 20},
		},
	}

	updated, _ := m.Update(StatusMsg{Status: st})
	model := updated.(Model)
	if model.Status() != st {
		t.Fatal("status not stored")
	}

	view := model.View()
	if !strings.Contains(view, "swapd") {
		t.Error("view missing title")
	}
	if !strings.Contains(view, "42") {
		t.Error("view missing pid")
	}
}

func TestErrorShownWhenDaemonUnreachable(t *testing.T) {
	m := NewModel()
	updated, _ := m.Update(StatusMsg{Err: errors.New("connection refused")})
	view := updated.(Model).View()
	if !strings.Contains(view, "unreachable") {
		t.Error("view missing error state")
	}
}

func TestQuitKeyStopsProgram(t *testing.T) {
	m := NewModel()
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Errorf("got %T, want tea.QuitMsg", cmd())
	}
}
