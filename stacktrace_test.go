package sentrykit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrentStacktrace(t *testing.T) {
	st := currentStacktrace(0, &ClientOptions{})
	require.NotNil(t, st)
	require.NotEmpty(t, st.Frames)

	// Oldest call first: the capturing function is the last frame.
	last := st.Frames[len(st.Frames)-1]
	assert.Equal(t, "TestCurrentStacktrace", last.Function)
	assert.Contains(t, last.Filename, "stacktrace_test.go")
	assert.NotZero(t, last.Lineno)
}

func TestCurrentStacktrace_TrimsSDKFrames(t *testing.T) {
	options := &ClientOptions{TrimBacktraces: true}
	st := currentStacktrace(0, options)
	require.NotNil(t, st)
	for _, frame := range st.Frames {
		assert.NotEqual(t, sdkModulePrefix, frame.Module)
	}
}

func TestIsInAppFrame_Heuristics(t *testing.T) {
	options := &ClientOptions{}

	assert.False(t, isInAppFrame(Frame{Module: "runtime", Function: "gopanic"}, options))
	assert.False(t, isInAppFrame(Frame{Module: "testing", Function: "tRunner"}, options))
	assert.False(t, isInAppFrame(Frame{Module: sdkModulePrefix, Function: "CaptureEvent"}, options))
	assert.False(t, isInAppFrame(Frame{
		Module:  "github.com/some/dep",
		AbsPath: "/src/app/vendor/github.com/some/dep/dep.go",
	}, options))
	assert.True(t, isInAppFrame(Frame{
		Module:  "github.com/acme/service/handlers",
		AbsPath: "/src/service/handlers/user.go",
	}, options))
}

func TestIsInAppFrame_Globs(t *testing.T) {
	options := &ClientOptions{
		InAppInclude: []string{"github.com/acme/*"},
		InAppExclude: []string{"github.com/acme/generated"},
	}

	assert.True(t, isInAppFrame(Frame{Module: "github.com/acme/api"}, options))
	assert.False(t, isInAppFrame(Frame{Module: "github.com/acme/generated"}, options))
}

func TestFrameModuleSplit(t *testing.T) {
	st := currentStacktrace(0, &ClientOptions{})
	require.NotEmpty(t, st.Frames)
	last := st.Frames[len(st.Frames)-1]
	assert.Equal(t, "github.com/your-org/sentrykit", last.Module)
}
