package sentrykit

import (
	"path"
	"runtime"
	"strings"
)

const maxStackDepth = 64

// sdkModulePrefix identifies this module's own frames so they can be trimmed
// from captured stack traces.
const sdkModulePrefix = "github.com/your-org/sentrykit"

// currentStacktrace captures the calling goroutine's stack, skipping the
// given number of frames on top of the runtime internals.
func currentStacktrace(skip int, options *ClientOptions) *Stacktrace {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return nil
	}

	callersFrames := runtime.CallersFrames(pcs[:n])
	var frames []Frame
	for {
		callerFrame, more := callersFrames.Next()
		frames = append(frames, newFrame(callerFrame, options))
		if !more {
			break
		}
	}

	// runtime.CallersFrames yields newest-first; the protocol wants the
	// oldest call first.
	for i, j := 0, len(frames)-1; i < j; i, j = i+1, j-1 {
		frames[i], frames[j] = frames[j], frames[i]
	}

	if options != nil && options.TrimBacktraces {
		frames = trimFrames(frames)
	}
	if len(frames) == 0 {
		return nil
	}
	return &Stacktrace{Frames: frames}
}

func newFrame(callerFrame runtime.Frame, options *ClientOptions) Frame {
	function := callerFrame.Function
	module := ""
	if idx := strings.LastIndex(function, "/"); idx != -1 {
		if dot := strings.Index(function[idx:], "."); dot != -1 {
			module = function[:idx+dot]
			function = function[idx+dot+1:]
		}
	} else if dot := strings.Index(function, "."); dot != -1 {
		module = function[:dot]
		function = function[dot+1:]
	}

	frame := Frame{
		Function: function,
		Module:   module,
		AbsPath:  callerFrame.File,
		Filename: path.Base(callerFrame.File),
		Lineno:   callerFrame.Line,
	}
	frame.InApp = isInAppFrame(frame, options)
	return frame
}

// isInAppFrame classifies a frame: explicit include/exclude globs first, then
// heuristics that treat the standard library, vendored code and this SDK as
// not in-app.
func isInAppFrame(frame Frame, options *ClientOptions) bool {
	if options != nil {
		for _, glob := range options.InAppExclude {
			if matchesGlob(glob, frame) {
				return false
			}
		}
		for _, glob := range options.InAppInclude {
			if matchesGlob(glob, frame) {
				return true
			}
		}
	}

	switch {
	case frame.Module == "", strings.HasPrefix(frame.Module, "runtime"),
		strings.HasPrefix(frame.Module, "testing"):
		return false
	case strings.HasPrefix(frame.Module, sdkModulePrefix):
		return false
	case strings.Contains(frame.AbsPath, "/vendor/"):
		return false
	}
	return true
}

func matchesGlob(glob string, frame Frame) bool {
	if ok, err := path.Match(glob, frame.Module); err == nil && ok {
		return true
	}
	if ok, err := path.Match(glob, frame.AbsPath); err == nil && ok {
		return true
	}
	return strings.HasPrefix(frame.Module, glob) || strings.HasPrefix(frame.AbsPath, glob)
}

// trimFrames drops SDK-internal frames and the runtime scaffolding around
// user code: leading runtime/proc frames and trailing SDK entry points.
func trimFrames(frames []Frame) []Frame {
	trimmed := frames[:0]
	for _, frame := range frames {
		if strings.HasPrefix(frame.Module, sdkModulePrefix) {
			continue
		}
		if frame.Module == "runtime" && frame.Function == "goexit" {
			continue
		}
		if frame.Module == "runtime" && frame.Function == "main" {
			continue
		}
		trimmed = append(trimmed, frame)
	}
	return trimmed
}
