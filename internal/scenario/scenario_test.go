package scenario

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hpungsan/compass/internal/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestBuiltinScenariosPass(t *testing.T) {
	names := ListBuiltin()
	require.Len(t, names, 6)

	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			sc, err := Builtin(name)
			require.NoError(t, err)

			report, err := Run(context.Background(), sc, Options{})
			require.NoError(t, err)
			for _, st := range report.Steps {
				require.Empty(t, st.Mismatches, "step %d (%s)", st.Step, st.Action)
			}
			require.True(t, report.Passed)
		})
	}
}

func TestBuiltin_Unknown(t *testing.T) {
	_, err := Builtin("nope")
	require.True(t, errors.Is(err, errors.ErrNotFound), "got %v", err)
}

func TestRun_PinScenarioSteps(t *testing.T) {
	sc, err := Builtin("06-pin")
	require.NoError(t, err)

	report, err := Run(context.Background(), sc, Options{})
	require.NoError(t, err)
	require.Len(t, report.Steps, 5)

	var triggers []string
	for _, st := range report.Steps {
		triggers = append(triggers, st.Trigger)
	}
	require.Equal(t, []string{"scenario_load", "force", "meeting_boundary_change", "meeting_boundary_change", "unpin"}, triggers)
	require.Equal(t, "2026-03-02T09:02:00Z", report.Steps[4].At)
}

func TestRun_ClockAdvance(t *testing.T) {
	sc, err := Load(filepath.Join("testdata", "advance.yaml"))
	require.NoError(t, err)

	report, err := Run(context.Background(), sc, Options{})
	require.NoError(t, err)
	require.True(t, report.Passed, "%+v", report.Steps)
}

func TestRun_ReportsMismatches(t *testing.T) {
	sc, err := Parse([]byte(`
name: wrong
now: 2026-03-02T09:00:00Z
events:
  - id: soon
    start: 2026-03-02T09:10:00Z
    end: 2026-03-02T09:40:00Z
expect:
  mode: capture
  confidence: low
  alternatives: [synthesis]
  pinned: true
`))
	require.NoError(t, err)

	report, err := Run(context.Background(), sc, Options{})
	require.NoError(t, err)
	require.False(t, report.Passed)
	require.Equal(t, []string{
		"mode = prep, want capture",
		"confidence = HIGH, want LOW",
		"alternatives = [], want [synthesis]",
		"pinned = false, want true",
	}, report.Steps[0].Mismatches)
}

func TestRun_InitialPin(t *testing.T) {
	sc, err := Parse([]byte(`
now: 2026-03-02T09:00:00Z
pin: synthesis
expect:
  mode: synthesis
  pinned: true
`))
	require.NoError(t, err)

	report, err := Run(context.Background(), sc, Options{})
	require.NoError(t, err)
	require.True(t, report.Passed, "%+v", report.Steps)
}

func TestRun_Thresholds(t *testing.T) {
	sc, err := Parse([]byte(`
now: 2026-03-02T09:00:00Z
thresholds:
  prep_window_minutes: 60
  synthesis_window_minutes: 30
  ambiguity_band_minutes: 5
events:
  - id: later
    start: 2026-03-02T09:45:00Z
    end: 2026-03-02T10:00:00Z
expect:
  mode: prep
`))
	require.NoError(t, err)

	report, err := Run(context.Background(), sc, Options{})
	require.NoError(t, err)
	require.True(t, report.Passed, "%+v", report.Steps)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		code errors.ErrorCode
	}{
		{"not yaml", "now: [", errors.ErrInvalidRequest},
		{"missing now", "name: x\n", errors.ErrInvalidRequest},
		{"bad pin", "now: 2026-03-02T09:00:00Z\npin: focus\n", errors.ErrInvalidMode},
		{"bad expect mode", "now: 2026-03-02T09:00:00Z\nexpect:\n  mode: focus\n", errors.ErrInvalidMode},
		{"bad confidence", "now: 2026-03-02T09:00:00Z\nexpect:\n  confidence: sure\n", errors.ErrInvalidRequest},
		{"unknown action", "now: 2026-03-02T09:00:00Z\nsteps:\n  - action: sleep\n", errors.ErrInvalidRequest},
		{"force without mode", "now: 2026-03-02T09:00:00Z\nsteps:\n  - action: force\n", errors.ErrInvalidMode},
		{"synthesis without id", "now: 2026-03-02T09:00:00Z\nsteps:\n  - action: complete_synthesis\n", errors.ErrInvalidRequest},
		{"negative advance", "now: 2026-03-02T09:00:00Z\nsteps:\n  - action: periodic\n    advance: -1m\n", errors.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.True(t, errors.Is(err, tt.code), "got %v", err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	require.True(t, errors.Is(err, errors.ErrFileNotFound), "got %v", err)
}
