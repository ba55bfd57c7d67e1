package gate_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/lancelot/internal/gate"
)

func TestCheck_Exhaustive(t *testing.T) {
	for _, class := range gate.Classes {
		for _, stage := range gate.Stages {
			err := gate.Check(stage, class)
			if stage >= class.MinimumStage() {
				assert.NoError(t, err, "%s at %s", class, stage)
				continue
			}

			require.Error(t, err, "%s at %s", class, stage)
			assert.ErrorIs(t, err, gate.ErrPermissionDenied)

			var denied *gate.PermissionDeniedError
			require.True(t, errors.As(err, &denied))
			assert.Equal(t, stage, denied.Current)
			assert.Equal(t, class.MinimumStage(), denied.Required)
			assert.Equal(t, class, denied.Class)
		}
	}
}

func TestMinimumStageTable(t *testing.T) {
	assert.Equal(t, gate.SystemAccess, gate.ClassSystemCall.MinimumStage())
	assert.Equal(t, gate.CodeModification, gate.ClassCodeModification.MinimumStage())
	assert.Equal(t, gate.Advanced, gate.ClassHardwareOperation.MinimumStage())

	// Unknown classes are never authorized.
	assert.Error(t, gate.Check(gate.Advanced, gate.Class(42)))
}

func TestMachine_Evolve(t *testing.T) {
	m := gate.NewMachine()
	assert.Equal(t, gate.Initial, m.Stage())

	want := []gate.Stage{gate.SystemAccess, gate.CodeModification, gate.Advanced}
	for _, expected := range want {
		from, to, ok := m.Evolve()
		require.True(t, ok)
		assert.Equal(t, expected-1, from)
		assert.Equal(t, expected, to)
		assert.Equal(t, expected, m.Stage())
	}

	from, to, ok := m.Evolve()
	assert.False(t, ok, "Advanced is terminal")
	assert.Equal(t, gate.Advanced, from)
	assert.Equal(t, gate.Advanced, to)
	assert.Equal(t, gate.Advanced, m.Stage())
}

func TestMachine_ConcurrentEvolveIsSingleStep(t *testing.T) {
	m := gate.NewMachine()

	var wg sync.WaitGroup
	var mu sync.Mutex
	advanced := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, ok := m.Evolve(); ok {
				mu.Lock()
				advanced++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, advanced, "exactly three transitions exist")
	assert.Equal(t, gate.Advanced, m.Stage())
}

func TestParseStage(t *testing.T) {
	s, err := gate.ParseStage("codemodification")
	require.NoError(t, err)
	assert.Equal(t, gate.CodeModification, s)

	s, err = gate.ParseStage(" system_access ")
	require.NoError(t, err)
	assert.Equal(t, gate.SystemAccess, s)

	_, err = gate.ParseStage("omnipotent")
	assert.Error(t, err)

	next, ok := gate.Advanced.Next()
	assert.False(t, ok)
	assert.Equal(t, gate.Advanced, next)
}

func TestPermissionDeniedError_Message(t *testing.T) {
	err := gate.Check(gate.SystemAccess, gate.ClassCodeModification)
	assert.EqualError(t, err, "permission denied: CodeModification requires stage CodeModification, agent is at SystemAccess")
}

func TestStage_TextRoundTrip(t *testing.T) {
	for _, s := range gate.Stages {
		text, err := s.MarshalText()
		require.NoError(t, err)
		var back gate.Stage
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, s, back)
	}
	var s gate.Stage
	assert.Error(t, s.UnmarshalText([]byte("Omnipotent")))
}
