package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/herd/types"
)

// sequenceIDs hands out predictable ids per job type.
type sequenceIDs struct {
	next map[string]int
	err  error
}

func (s *sequenceIDs) NextFreeJobID(_ context.Context, _, jobType string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if s.next == nil {
		s.next = make(map[string]int)
	}
	s.next[jobType]++
	return fmt.Sprintf("%d", s.next[jobType]), nil
}

func diamond(b *Builder, _ ...any) error {
	prepare := b.Run("Prepare")
	fetchA := b.Run("FetchA", After(prepare))
	fetchB := b.Run("FetchB", After(prepare))
	normalize := b.Run("Normalize", After(fetchA, fetchB))
	b.Run("Persist", After(normalize))
	return nil
}

func buildWith(t *testing.T, fn ConfigureFunc, args ...any) (*Workflow, error) {
	t.Helper()
	r := NewRegistry(nil)
	require.NoError(t, r.Register("Test", fn))
	return r.Build(context.Background(), "Test", "wf-1", &sequenceIDs{}, args...)
}

func TestBuilder_DiamondEdgesAreSymmetric(t *testing.T) {
	wf, err := buildWith(t, diamond)
	require.NoError(t, err)
	require.Len(t, wf.Jobs, 5)

	prepare, err := wf.FindJob("Prepare")
	require.NoError(t, err)
	normalize, err := wf.FindJob("Normalize")
	require.NoError(t, err)

	assert.Empty(t, prepare.Incoming)
	assert.Equal(t, []string{"FetchA|1", "FetchB|1"}, prepare.Outgoing)
	assert.Equal(t, []string{"FetchA|1", "FetchB|1"}, normalize.Incoming)
	assert.Equal(t, []string{"Persist|1"}, normalize.Outgoing)

	assertSymmetric(t, wf)

	initial := wf.InitialJobs()
	require.Len(t, initial, 1)
	assert.Equal(t, "Prepare|1", initial[0].Name())
	assert.Equal(t, StatePending, wf.State)
	assert.Equal(t, "wf-1", normalize.WorkflowID)
}

func TestBuilder_BeforeAndForwardReferences(t *testing.T) {
	wf, err := buildWith(t, func(b *Builder, _ ...any) error {
		// Cleanup is referenced before it exists; resolution happens in Build.
		b.Run("Extract", Before("Cleanup"))
		b.Run("Cleanup")
		return nil
	})
	require.NoError(t, err)

	cleanup, err := wf.FindJob("Cleanup")
	require.NoError(t, err)
	assert.Equal(t, []string{"Extract|1"}, cleanup.Incoming)
	assertSymmetric(t, wf)
}

func TestBuilder_DuplicateEdgeRequestsCollapse(t *testing.T) {
	wf, err := buildWith(t, func(b *Builder, _ ...any) error {
		a := b.Run("A")
		b.Run("B", After(a, a))
		b.Edge(a, "B")
		return nil
	})
	require.NoError(t, err)

	a, _ := wf.FindJob("A")
	assert.Equal(t, []string{"B|1"}, a.Outgoing)
}

func TestBuilder_Errors(t *testing.T) {
	tests := []struct {
		name string
		fn   ConfigureFunc
		code types.ErrorCode
	}{
		{
			name: "unknown dependency",
			fn: func(b *Builder, _ ...any) error {
				b.Run("A", After("Missing"))
				return nil
			},
			code: types.ErrInvalidDependency,
		},
		{
			name: "duplicate qualified name",
			fn: func(b *Builder, _ ...any) error {
				b.Run("A", WithJobID("x"))
				b.Run("A", WithJobID("x"))
				return nil
			},
			code: types.ErrDuplicateJob,
		},
		{
			name: "two node cycle",
			fn: func(b *Builder, _ ...any) error {
				a := b.Run("A")
				b.Run("B", After(a), Before(a))
				return nil
			},
			code: types.ErrCircularDependency,
		},
		{
			name: "self dependency",
			fn: func(b *Builder, _ ...any) error {
				b.Run("A", WithJobID("1"), After("A|1"))
				return nil
			},
			code: types.ErrCircularDependency,
		},
		{
			name: "long cycle",
			fn: func(b *Builder, _ ...any) error {
				a := b.Run("A")
				c := b.Run("B", After(a))
				d := b.Run("C", After(c))
				b.Edge(d, a)
				return nil
			},
			code: types.ErrCircularDependency,
		},
		{
			name: "ambiguous bare name",
			fn: func(b *Builder, _ ...any) error {
				b.Run("Fetch")
				b.Run("Fetch")
				b.Run("Merge", After("Fetch"))
				return nil
			},
			code: types.ErrInvalidJobName,
		},
		{
			name: "separator in type",
			fn: func(b *Builder, _ ...any) error {
				b.Run("A|B")
				return nil
			},
			code: types.ErrInvalidJobName,
		},
		{
			name: "empty definition",
			fn:   func(b *Builder, _ ...any) error { return nil },
			code: types.ErrEmptyWorkflow,
		},
		{
			name: "unknown nested definition",
			fn: func(b *Builder, _ ...any) error {
				b.Workflow("NoSuchFlow")
				return nil
			},
			code: types.ErrUnknownDefinition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildWith(t, tt.fn)
			require.Error(t, err)
			assert.Equal(t, tt.code, types.GetErrorCode(err), err.Error())
		})
	}
}

func TestBuilder_QualifiedNamesDisambiguate(t *testing.T) {
	wf, err := buildWith(t, func(b *Builder, _ ...any) error {
		first := b.Run("Fetch")
		second := b.Run("Fetch")
		b.Run("Merge", After(first, second))
		return nil
	})
	require.NoError(t, err)

	merge, err := wf.FindJob("Merge")
	require.NoError(t, err)
	assert.Equal(t, []string{"Fetch|1", "Fetch|2"}, merge.Incoming)

	_, err = wf.FindJob("Fetch")
	assert.True(t, types.IsCode(err, types.ErrInvalidJobName))
	_, err = wf.FindJob("Fetch|3")
	assert.True(t, types.IsCode(err, types.ErrJobNotFound))
}

func TestBuilder_ConfigureErrorPropagates(t *testing.T) {
	boom := errors.New("bad arguments")
	_, err := buildWith(t, func(b *Builder, _ ...any) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestBuilder_IDSourceFailure(t *testing.T) {
	r := NewRegistry(nil)
	r.MustRegister("Test", diamond)

	boom := errors.New("redis down")
	_, err := r.Build(context.Background(), "Test", "wf-1", &sequenceIDs{err: boom})
	assert.ErrorIs(t, err, boom)
}

func TestBuilder_OptionsAndArguments(t *testing.T) {
	wf, err := buildWith(t, func(b *Builder, args ...any) error {
		b.Run("Export",
			WithParams(map[string]any{"region": args[0]}),
			OnQueue("critical"),
			WithParentProxy(42),
		)
		b.Workflow("Test", WithArgs("nested"), WithJobID("child"))
		return nil
	}, "eu")
	require.NoError(t, err)

	export, err := wf.FindJob("Export")
	require.NoError(t, err)
	assert.Equal(t, "eu", export.Params["region"])
	assert.Equal(t, "critical", export.Queue)
	require.NotNil(t, export.ParentProxyID)
	assert.Equal(t, uint(42), *export.ParentProxyID)

	nested, err := wf.FindJob("Test|child")
	require.NoError(t, err)
	assert.True(t, nested.IsSubWorkflow())
	assert.Equal(t, []any{"nested"}, nested.SubArgs)
	assert.Equal(t, []any{"eu"}, wf.Arguments)
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register("B", diamond))
	require.NoError(t, r.Register("A", diamond))

	err := r.Register("A", diamond)
	assert.True(t, types.IsCode(err, types.ErrDefinitionConflict))
	assert.True(t, types.IsCode(r.Register("", diamond), types.ErrInvalidInput))

	assert.Equal(t, []string{"A", "B"}, r.Names())

	_, err = r.Lookup("C")
	assert.True(t, types.IsCode(err, types.ErrUnknownDefinition))
	assert.Panics(t, func() { r.MustRegister("A", diamond) })
}

func assertSymmetric(t *testing.T, wf *Workflow) {
	t.Helper()
	for _, j := range wf.Jobs {
		for _, out := range j.Outgoing {
			target, err := wf.FindJob(out)
			require.NoError(t, err)
			assert.Contains(t, target.Incoming, j.Name(), "%s -> %s missing incoming", j.Name(), out)
		}
		for _, in := range j.Incoming {
			source, err := wf.FindJob(in)
			require.NoError(t, err)
			assert.Contains(t, source.Outgoing, j.Name(), "%s -> %s missing outgoing", in, j.Name())
		}
	}
}
