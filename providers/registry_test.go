package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erradvise/erradvise/core"
)

type stubClient struct{}

func (s *stubClient) Analyze(ctx context.Context, prompt string, options *core.ProviderOptions) (*core.Advice, error) {
	return &core.Advice{Text: "stub"}, nil
}

type stubFactory struct {
	name      string
	priority  int
	available bool
}

func (f *stubFactory) Create(config *Config) core.ProviderClient { return &stubClient{} }
func (f *stubFactory) DetectEnvironment() (int, bool)            { return f.priority, f.available }
func (f *stubFactory) Name() string                              { return f.name }
func (f *stubFactory) Description() string                       { return "stub " + f.name }

func TestRegisterValidation(t *testing.T) {
	assert.Error(t, Register(nil))
	assert.Error(t, Register(&stubFactory{name: ""}))

	require.NoError(t, Register(&stubFactory{name: "reg-dup"}))
	assert.Error(t, Register(&stubFactory{name: "reg-dup"}), "duplicate registration rejected")
}

func TestGetAndList(t *testing.T) {
	require.NoError(t, Register(&stubFactory{name: "reg-get"}))

	factory, ok := Get("reg-get")
	assert.True(t, ok)
	assert.Equal(t, "reg-get", factory.Name())

	_, ok = Get("reg-nope")
	assert.False(t, ok)

	assert.Contains(t, List(), "reg-get")
}

func TestSelectPreferredProvider(t *testing.T) {
	require.NoError(t, Register(&stubFactory{name: "sel-preferred", priority: 1, available: true}))
	require.NoError(t, Register(&stubFactory{name: "sel-stronger", priority: 99, available: true}))

	name, factory, ok := Select("sel-preferred", nil)
	require.True(t, ok)
	assert.Equal(t, "sel-preferred", name)
	assert.NotNil(t, factory)
}

func TestSelectPreferredUnavailable(t *testing.T) {
	require.NoError(t, Register(&stubFactory{name: "sel-dark", priority: 100, available: false}))

	_, _, ok := Select("sel-dark", nil)
	assert.False(t, ok, "preferred provider without a credential yields none")
}

func TestSelectPreferredUnknown(t *testing.T) {
	_, _, ok := Select("sel-never-registered", nil)
	assert.False(t, ok)
}

func TestSelectHighestPriorityWins(t *testing.T) {
	require.NoError(t, Register(&stubFactory{name: "sel-low", priority: 10, available: true}))
	require.NoError(t, Register(&stubFactory{name: "sel-high", priority: 200, available: true}))

	name, _, ok := Select("", nil)
	require.True(t, ok)
	assert.Equal(t, "sel-high", name)
}

func TestSelectTieBrokenByName(t *testing.T) {
	require.NoError(t, Register(&stubFactory{name: "sel-tie-b", priority: 300, available: true}))
	require.NoError(t, Register(&stubFactory{name: "sel-tie-a", priority: 300, available: true}))

	for i := 0; i < 5; i++ {
		name, _, ok := Select("", nil)
		require.True(t, ok)
		assert.Equal(t, "sel-tie-a", name, "tie-break is deterministic")
	}
}
