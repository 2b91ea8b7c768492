package render

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	readyErr    error
	shots       [][]byte
	shotErrs    map[int]error
	advanceErr  error
	source      string
	screenshots int
	advances    int
	closed      int
	readyCtxOK  bool
}

func (s *fakeSession) WaitReady(ctx context.Context, selector string) error {
	_, s.readyCtxOK = ctx.Deadline()
	return s.readyErr
}

func (s *fakeSession) Screenshot(context.Context) ([]byte, error) {
	i := s.screenshots
	s.screenshots++
	if err := s.shotErrs[i]; err != nil {
		return nil, err
	}
	if i < len(s.shots) {
		return s.shots[i], nil
	}
	return []byte("png"), nil
}

func (s *fakeSession) AdvanceFrame(context.Context) error {
	s.advances++
	return s.advanceErr
}

func (s *fakeSession) PageSource(context.Context) (string, error) { return s.source, nil }

func (s *fakeSession) Close() error {
	s.closed++
	return nil
}

type fakeBrowser struct {
	session *fakeSession
	openErr error
	url     string
	amps    []float32
}

func (b *fakeBrowser) Open(_ context.Context, pageURL string, amps []float32) (Session, error) {
	b.url = pageURL
	b.amps = amps
	if b.openErr != nil {
		return nil, b.openErr
	}
	return b.session, nil
}

func newTestDriver(b Browser, frames int) (*Driver, *[]time.Duration) {
	var sleeps []time.Duration
	d := NewDriver(b, Options{FrameCount: frames, FPS: 12, ReadyTimeout: time.Second})
	d.Sleep = func(_ context.Context, dur time.Duration) error {
		sleeps = append(sleeps, dur)
		return nil
	}
	return d, &sleeps
}

func frameFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "frame_*.png"))
	require.NoError(t, err)
	for i := range matches {
		matches[i] = filepath.Base(matches[i])
	}
	return matches
}

func TestCaptureAllFrames(t *testing.T) {
	sess := &fakeSession{}
	b := &fakeBrowser{session: sess}
	d, sleeps := newTestDriver(b, 18)
	dir := t.TempDir()
	amps := make([]float32, 18)

	n, err := d.Capture(context.Background(), filepath.Join(dir, "index.html"), dir, amps)
	require.NoError(t, err)
	assert.Equal(t, 18, n)
	assert.Equal(t, 17, sess.advances)
	assert.Equal(t, 1, sess.closed)
	assert.True(t, sess.readyCtxOK, "readiness wait is bounded")
	assert.True(t, strings.HasPrefix(b.url, "file://"))
	assert.Equal(t, amps, b.amps)

	files := frameFiles(t, dir)
	require.Len(t, files, 18)
	assert.Equal(t, "frame_000.png", files[0])
	assert.Equal(t, "frame_017.png", files[17])

	require.NotEmpty(t, *sleeps)
	assert.Equal(t, time.Second/12, (*sleeps)[len(*sleeps)-1])
}

func TestCaptureReadinessTimeout(t *testing.T) {
	sess := &fakeSession{readyErr: context.DeadlineExceeded}
	d, _ := newTestDriver(&fakeBrowser{session: sess}, 24)

	n, err := d.Capture(context.Background(), "index.html", t.TempDir(), nil)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Zero(t, n)
	assert.Zero(t, sess.screenshots, "no partial output")
	assert.Equal(t, 1, sess.closed)
}

func TestCaptureEmptyFirstFrame(t *testing.T) {
	sess := &fakeSession{shots: [][]byte{{}}, source: "<html>blank</html>"}
	d, _ := newTestDriver(&fakeBrowser{session: sess}, 18)
	dir := t.TempDir()

	n, err := d.Capture(context.Background(), "index.html", dir, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, sess.screenshots, "no further frames attempted")
	assert.Zero(t, sess.advances)
	assert.Equal(t, 1, sess.closed)
	assert.Empty(t, frameFiles(t, dir))

	dump, err := os.ReadFile(filepath.Join(dir, DebugDumpFile))
	require.NoError(t, err)
	assert.Equal(t, "<html>blank</html>", string(dump))
}

func TestCaptureFirstFrameError(t *testing.T) {
	sess := &fakeSession{shotErrs: map[int]error{0: errors.New("crashed")}}
	d, _ := newTestDriver(&fakeBrowser{session: sess}, 5)

	n, err := d.Capture(context.Background(), "index.html", t.TempDir(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCaptureSkipsFailedLaterFrames(t *testing.T) {
	sess := &fakeSession{
		shotErrs:   map[int]error{2: errors.New("flaky")},
		shots:      [][]byte{[]byte("a"), []byte("b"), nil, []byte("d"), {}},
		advanceErr: errors.New("advanceFrame is not a function"),
	}
	d, _ := newTestDriver(&fakeBrowser{session: sess}, 6)
	dir := t.TempDir()

	n, err := d.Capture(context.Background(), "index.html", dir, nil)
	require.NoError(t, err)
	// frames 2 (error) and 4 (empty) are skipped
	assert.Equal(t, 4, n)
	assert.Equal(t, 6, sess.screenshots)
	assert.Equal(t, []string{"frame_000.png", "frame_001.png", "frame_002.png", "frame_003.png"}, frameFiles(t, dir))

	third, err := os.ReadFile(filepath.Join(dir, "frame_002.png"))
	require.NoError(t, err)
	assert.Equal(t, "d", string(third))
}

func TestCaptureDefaultAmplitudes(t *testing.T) {
	b := &fakeBrowser{session: &fakeSession{}}
	d, _ := newTestDriver(b, 4)

	_, err := d.Capture(context.Background(), "index.html", t.TempDir(), nil)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.5, 0.5, 0.5}, b.amps)
}

func TestCaptureFitsEnvelopeToFrameCount(t *testing.T) {
	b := &fakeBrowser{session: &fakeSession{}}
	d, _ := newTestDriver(b, 4)

	_, err := d.Capture(context.Background(), "index.html", t.TempDir(), []float32{0.1, 0.2})
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.2, 0.2}, b.amps)

	_, err = d.Capture(context.Background(), "index.html", t.TempDir(), []float32{0.1, 0.2, 0.3, 0.4, 0.9, 1})
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3, 0.4}, b.amps)
}

func TestCaptureRemovesStaleFrames(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "frame_099.png"), []byte("old"), 0o644))
	d, _ := newTestDriver(&fakeBrowser{session: &fakeSession{}}, 2)

	n, err := d.Capture(context.Background(), "index.html", dir, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"frame_000.png", "frame_001.png"}, frameFiles(t, dir))
}

func TestCaptureOpenFailure(t *testing.T) {
	d, _ := newTestDriver(&fakeBrowser{openErr: errors.New("no chrome")}, 2)
	_, err := d.Capture(context.Background(), "index.html", t.TempDir(), nil)
	assert.Error(t, err)
}

func TestWritePageDefaultTemplate(t *testing.T) {
	dir := t.TempDir()
	path, err := WritePage(dir, PageData{Comment: "<b>nice bot</b>", Reply: "beep", Tone: "dry"}, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, PageFile), path)

	html, err := os.ReadFile(path)
	require.NoError(t, err)
	body := string(html)
	assert.Contains(t, body, `class="robot-svg"`)
	assert.Contains(t, body, "window.advanceFrame")
	assert.Contains(t, body, "window.MOUTH_AMPS")
	assert.Contains(t, body, "&lt;b&gt;nice bot&lt;/b&gt;")
	assert.Contains(t, body, "beep")
}

func TestWritePageCustomTemplate(t *testing.T) {
	dir := t.TempDir()
	tmpl := filepath.Join(dir, "custom.html")
	require.NoError(t, os.WriteFile(tmpl, []byte(`<div class="robot-svg">{{.Reply}}</div>`), 0o644))

	path, err := WritePage(filepath.Join(dir, "item"), PageData{Reply: "hello"}, tmpl)
	require.NoError(t, err)
	html, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `<div class="robot-svg">hello</div>`, string(html))
}

func TestAmplitudeScript(t *testing.T) {
	script, err := AmplitudeScript([]float32{0.25, 1})
	require.NoError(t, err)
	assert.Equal(t, "window.MOUTH_AMPS = [0.25,1];", script)
}

func TestFileURL(t *testing.T) {
	u, err := FileURL("/tmp/a b/index.html")
	require.NoError(t, err)
	assert.Equal(t, "file:///tmp/a%20b/index.html", u)
}
