package loggo

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCore(t *testing.T, sink *errSink, routes ...*Route) *Core {
	t.Helper()
	c, err := NewCore(routes, WithErrorHandler(sink.handle))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCoreLevelGating(t *testing.T) {
	sink := &errSink{}
	debugW, errorW := &memWriter{}, &memWriter{}
	c := newTestCore(t, sink,
		MustRoute(LevelDebug, NewTextFormatter(), debugW),
		MustRoute(LevelError, NewTextFormatter(), errorW),
	)

	assert.False(t, c.Enabled(LevelTrace))
	assert.True(t, c.Enabled(LevelDebug))

	c.Trace("trace")
	c.Info("info")
	c.Error("error")
	c.Exception("exception")

	assert.Len(t, debugW.lines(), 3)
	assert.Len(t, errorW.lines(), 2)
	assert.Contains(t, errorW.output(), "ERROR     error")
	assert.NotContains(t, errorW.output(), "info")
	assert.Empty(t, sink.all())
}

func TestCoreEmptyMessage(t *testing.T) {
	w := &memWriter{}
	c := newTestCore(t, &errSink{}, MustRoute(LevelTrace, NewTextFormatter(), w))

	c.Info("")
	assert.Zero(t, w.writeCount())

	c.Info("", F("k", 1))
	assert.Equal(t, 1, w.writeCount())
	assert.Contains(t, w.output(), "| k=1")
}

func TestCoreFieldsPerFormatter(t *testing.T) {
	textW, jsonW := &memWriter{}, &memWriter{}
	c := newTestCore(t, &errSink{},
		MustRoute(LevelInfo, NewTextFormatter(), textW),
		MustRoute(LevelInfo, NewJSONFormatter(), jsonW),
	)

	c.Info("user login", F("user_id", 7))
	assert.Contains(t, textW.output(), "user login | user_id=7\n")
	assert.Contains(t, jsonW.output(), `"message":"user login","fields":{"user_id":7}}`)
}

func TestCoreSerializesOncePerEncoding(t *testing.T) {
	a := &recordingFormatter{enc: EncodingJSON, depth: 3}
	b := &recordingFormatter{enc: EncodingJSON, depth: 3}
	compact := &recordingFormatter{enc: EncodingCompact, depth: 3}
	c := newTestCore(t, &errSink{},
		MustRoute(LevelInfo, a, &memWriter{}),
		MustRoute(LevelInfo, b, &memWriter{}),
		MustRoute(LevelInfo, compact, &memWriter{}),
	)

	c.Info("shared", F("k", "v"))

	ra, rb, rc := a.all(), b.all(), compact.all()
	require.Len(t, ra, 1)
	require.Len(t, rb, 1)
	require.Len(t, rc, 1)
	assert.Same(t, &ra[0].Fields[0], &rb[0].Fields[0])
	assert.Equal(t, `{"k":"v"}`, string(ra[0].Fields))
	assert.Equal(t, "k\x00v\x00", string(rc[0].Fields))
}

func TestCoreRouteIsolation(t *testing.T) {
	sink := &errSink{}
	failing := &memWriter{err: errors.New("device full")}
	good := &memWriter{}
	bad := MustRoute(LevelInfo, NewTextFormatter(), failing)
	c := newTestCore(t, sink, bad, MustRoute(LevelInfo, NewTextFormatter(), good))

	before := testutil.ToFloat64(ErrorsTotal.WithLabelValues("write"))
	c.Info("fan out")

	assert.Len(t, good.lines(), 1)
	errs := sink.all()
	require.Len(t, errs, 1)
	var wErr *WriteError
	require.ErrorAs(t, errs[0], &wErr)
	assert.Equal(t, bad.ID(), wErr.RouteID)
	assert.Contains(t, wErr.Error(), "device full")
	assert.Equal(t, before+1, testutil.ToFloat64(ErrorsTotal.WithLabelValues("write")))
}

func TestCoreClosedWriterTaggedWithRoute(t *testing.T) {
	sink := &errSink{}
	stream := NewStreamWriter(&strings.Builder{})
	route := MustRoute(LevelInfo, NewTextFormatter(), stream)
	c := newTestCore(t, sink, route)

	require.NoError(t, stream.Close())
	c.Info("after close")

	errs := sink.all()
	require.Len(t, errs, 1)
	var wErr *WriteError
	require.ErrorAs(t, errs[0], &wErr)
	assert.Equal(t, route.ID(), wErr.RouteID)
	assert.ErrorIs(t, errs[0], ErrWriterClosed)
}

func TestCoreRecoversFromPanics(t *testing.T) {
	sink := &errSink{}
	good := &memWriter{}
	c := newTestCore(t, sink,
		MustRoute(LevelInfo, panicFormatter{}, &memWriter{}),
		MustRoute(LevelInfo, NewTextFormatter(), good),
	)

	assert.NotPanics(t, func() { c.Info("still delivered") })
	assert.Len(t, good.lines(), 1)
	errs := sink.all()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "formatter exploded")
}

func TestCoreClock(t *testing.T) {
	clock := clockwork.NewFakeClockAt(fixedTime)
	f := &recordingFormatter{}
	c, err := NewCore([]*Route{MustRoute(LevelInfo, f, &memWriter{})}, WithClock(clock))
	require.NoError(t, err)
	defer c.Close()

	c.Info("tick")
	clock.Advance(time.Minute)
	c.Info("tock")

	recs := f.all()
	require.Len(t, recs, 2)
	assert.Equal(t, fixedTime, recs[0].Time)
	assert.Equal(t, fixedTime.Add(time.Minute), recs[1].Time)
}

func TestCoreScope(t *testing.T) {
	f := &recordingFormatter{}
	c, err := NewCore([]*Route{MustRoute(LevelTrace, f, &memWriter{})},
		WithPolicy(Policy{InjectScope: true}))
	require.NoError(t, err)
	defer c.Close()

	c.Debug("where am i")

	recs := f.all()
	require.Len(t, recs, 1)
	assert.Contains(t, recs[0].Scope, "core_test.go:")
	assert.Contains(t, recs[0].Scope, "TestCoreScope")
	assert.Empty(t, recs[0].Traceback)
}

//go:noinline
func tracebackOuter(c *Core) { tracebackInner(c) }

//go:noinline
func tracebackInner(c *Core) { c.Error("with traceback") }

func TestCoreTraceback(t *testing.T) {
	f := &recordingFormatter{}
	c, err := NewCore([]*Route{MustRoute(LevelTrace, f, &memWriter{})},
		WithPolicy(Policy{InjectScope: true, InjectTraceback: true, TracebackMinLevel: LevelError, TracebackMaxDepth: 3}))
	require.NoError(t, err)
	defer c.Close()

	c.Info("scoped only")
	tracebackOuter(c)

	recs := f.all()
	require.Len(t, recs, 2)

	assert.NotEmpty(t, recs[0].Scope)
	assert.Empty(t, recs[0].Traceback)

	tb := recs[1].Traceback
	assert.Empty(t, recs[1].Scope)
	assert.True(t, strings.HasPrefix(tb, `  File "core_test.go", line `), tb)
	assert.Equal(t, 3, strings.Count(tb, "  File "))
	assert.NotContains(t, tb, "core.go")

	// outermost frame first, the logging call last
	test := strings.Index(tb, "in loggo.TestCoreTraceback()")
	outer := strings.Index(tb, "in loggo.tracebackOuter()")
	inner := strings.Index(tb, "in loggo.tracebackInner()")
	require.True(t, test >= 0 && outer >= 0 && inner >= 0, tb)
	assert.Less(t, test, outer)
	assert.Less(t, outer, inner)
	assert.True(t, strings.HasSuffix(tb, "    func tracebackInner(c *Core) { c.Error(\"with traceback\") }\n"), tb)
}

func TestCoreCaptureUnavailable(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		scope  string
		tb     string
	}{
		{"scope", Policy{InjectScope: true}, "<scope unavailable>", ""},
		{"traceback", Policy{InjectTraceback: true, TracebackMinLevel: LevelInfo}, "", "<traceback unavailable>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &recordingFormatter{}
			w := &memWriter{}
			sink := &errSink{}
			c, err := NewCore([]*Route{MustRoute(LevelTrace, f, w)},
				WithPolicy(tt.policy), WithErrorHandler(sink.handle))
			require.NoError(t, err)
			defer c.Close()

			// the goroutine's stack holds only engine and runtime frames
			go c.Info("detached")

			require.Eventually(t, func() bool { return w.writeCount() == 1 }, 5*time.Second, time.Millisecond)
			recs := f.all()
			require.Len(t, recs, 1)
			assert.Equal(t, "detached", recs[0].Message)
			assert.Equal(t, tt.scope, recs[0].Scope)
			assert.Equal(t, tt.tb, recs[0].Traceback)
			assert.Equal(t, 1, sink.count(ErrCaptureUnavailable))
		})
	}
}

func TestPolicyMachineryBoundary(t *testing.T) {
	p := Policy{SkipPackages: []string{"example.com/wrap"}}

	tests := []struct {
		name  string
		frame runtime.Frame
		want  bool
	}{
		{"engine", runtime.Frame{Function: modulePath + ".(*Core).Log", File: "/src/core.go"}, true},
		{"engine subpackage", runtime.Frame{Function: modulePath + "/quick.Info", File: "/src/quick/interface.go"}, true},
		{"engine test file", runtime.Frame{Function: modulePath + ".TestX", File: "/src/core_test.go"}, false},
		{"runtime", runtime.Frame{Function: "runtime.goexit", File: "/go/src/runtime/asm.s"}, true},
		{"skipped wrapper", runtime.Frame{Function: "example.com/wrap.Log", File: "/w/wrap.go"}, true},
		{"similar prefix", runtime.Frame{Function: "example.com/wrapper.Log", File: "/w/wrapper.go"}, false},
		{"user", runtime.Frame{Function: "main.main", File: "/app/main.go"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.isMachinery(tt.frame))
		})
	}
}

func TestShortFuncName(t *testing.T) {
	assert.Equal(t, "app.Run", shortFuncName("example.com/app.Run"))
	assert.Equal(t, "app.(*Server).Serve", shortFuncName("example.com/app.(*Server).Serve"))
	assert.Equal(t, "(anonymous app.Run.func1)", shortFuncName("example.com/app.Run.func1"))
}

func TestCoreUseAfterClose(t *testing.T) {
	sink := &errSink{}
	w := &memWriter{}
	c, err := NewCore([]*Route{MustRoute(LevelInfo, NewTextFormatter(), w)}, WithErrorHandler(sink.handle))
	require.NoError(t, err)

	c.Info("before")
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	c.Info("after")
	c.Error("after again")

	assert.Len(t, w.lines(), 1)
	assert.Equal(t, 1, w.closeCount())
	assert.Equal(t, 1, sink.count(ErrClosed))
}

func TestCoreCloseWaitsForInflight(t *testing.T) {
	w := newBlockingWriter()
	c, err := NewCore([]*Route{MustRoute(LevelInfo, NewTextFormatter(), w)}, WithErrorHandler((&errSink{}).handle))
	require.NoError(t, err)

	logged := make(chan struct{})
	go func() {
		c.Info("slow")
		close(logged)
	}()
	<-w.entered

	closed := make(chan error, 1)
	go func() { closed <- c.Close() }()

	select {
	case <-closed:
		t.Fatal("Close returned while a call was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(w.release)
	require.NoError(t, <-closed)
	<-logged
	assert.Equal(t, 1, w.writeCount())
	assert.Equal(t, 1, w.closeCount())
}

func TestCoreShutdownDeadline(t *testing.T) {
	sink := &errSink{}
	w := newBlockingWriter()
	c, err := NewCore([]*Route{MustRoute(LevelInfo, NewTextFormatter(), w)}, WithErrorHandler(sink.handle))
	require.NoError(t, err)

	go c.Info("stuck")
	<-w.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Shutdown(ctx), context.DeadlineExceeded)
	assert.Zero(t, w.closeCount())

	close(w.release)
	require.Eventually(t, func() bool { return w.closeCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, w.writeCount())
}

func TestCoreSharedWriters(t *testing.T) {
	w := &memWriter{}
	f := NewTextFormatter()

	// two routes on one writer count as one owner
	c1, err := NewCore([]*Route{MustRoute(LevelInfo, f, w), MustRoute(LevelError, f, w)})
	require.NoError(t, err)
	c2, err := NewCore([]*Route{MustRoute(LevelDebug, f, w)})
	require.NoError(t, err)
	assert.Equal(t, 2, writerOwners(w))

	c1.Error("twice")
	assert.Len(t, w.lines(), 2)

	require.NoError(t, c1.Close())
	assert.Zero(t, w.closeCount())

	c2.Debug("still open")
	assert.Len(t, w.lines(), 3)

	require.NoError(t, c2.Close())
	assert.Equal(t, 1, w.closeCount())
}

func TestNewCoreErrors(t *testing.T) {
	_, err := NewCore([]*Route{nil})
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "core", cfgErr.Component)

	_, err = NewRoute(Level(15), NewTextFormatter(), &memWriter{})
	assert.ErrorAs(t, err, &cfgErr)
	_, err = NewRoute(LevelInfo, nil, &memWriter{})
	assert.ErrorAs(t, err, &cfgErr)
	_, err = NewRoute(LevelInfo, NewTextFormatter(), nil)
	assert.ErrorAs(t, err, &cfgErr)
	assert.Panics(t, func() { MustRoute(LevelInfo, nil, nil) })
}

func TestCoreRecordsMetric(t *testing.T) {
	c := newTestCore(t, &errSink{}, MustRoute(LevelWarning, NewTextFormatter(), &memWriter{}))
	counter := RecordsTotal.WithLabelValues(LevelException.String())
	before := testutil.ToFloat64(counter)

	c.Exception("counted")
	c.Info("filtered")

	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}
