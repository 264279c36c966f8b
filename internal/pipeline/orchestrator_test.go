package pipeline

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/freemre/avatargen/internal/altspace"
	"github.com/freemre/avatargen/internal/render"
	"github.com/freemre/avatargen/internal/requestlog"
)

type fakeFetcher struct {
	customization altspace.Customization
	err           error
	calls         int
}

func (f *fakeFetcher) FetchCustomization(ctx context.Context, username string) (altspace.Customization, error) {
	f.calls++
	return f.customization, f.err
}

type fakeQuota struct {
	err error
}

func (f *fakeQuota) Check(email string) error { return f.err }

type fakeRenderer struct {
	artifact string
	err      error
	calls    int
	opts     render.Options
}

func (f *fakeRenderer) Render(ctx context.Context, payload []byte, email, username string, opts render.Options) (string, error) {
	f.calls++
	f.opts = opts
	return f.artifact, f.err
}

type fakeDeliverer struct {
	err   error
	calls int
}

func (f *fakeDeliverer) Deliver(ctx context.Context, email, username, artifactPath string) error {
	f.calls++
	return f.err
}

type fakeNotifier struct {
	requested int
	completed int
}

func (f *fakeNotifier) Requested(username, email, sourceIP string) { f.requested++ }
func (f *fakeNotifier) Completed(username, email string)          { f.completed++ }

func testRequest() Request {
	return Request{Username: "alice", Email: "a@x.com", SourceIP: "127.0.0.1"}
}

func TestProcessHappyPath(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{customization: altspace.Customization{ID: "12345", Raw: []byte("{}")}}
	renderer := &fakeRenderer{artifact: "output/a@x.com/alice.fbx"}
	deliverer := &fakeDeliverer{}
	notifier := &fakeNotifier{}

	orch := NewOrchestrator(fetcher, &fakeQuota{}, renderer, deliverer, notifier, nil)
	result := orch.Process(context.Background(), testRequest())

	if result.Outcome != Delivered {
		t.Fatalf("outcome = %s, want delivered", result.Outcome)
	}
	if result.Message != "success" {
		t.Fatalf("message = %q", result.Message)
	}
	if notifier.requested != 1 || notifier.completed != 1 {
		t.Fatalf("notifications = %d requested, %d completed; want 1/1", notifier.requested, notifier.completed)
	}
	if deliverer.calls != 1 {
		t.Fatalf("deliverer calls = %d", deliverer.calls)
	}
}

func TestProcessUnknownUserSkipsRenderer(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{err: altspace.ErrUserNotFound}
	renderer := &fakeRenderer{}
	deliverer := &fakeDeliverer{}
	notifier := &fakeNotifier{}

	orch := NewOrchestrator(fetcher, &fakeQuota{}, renderer, deliverer, notifier, nil)
	result := orch.Process(context.Background(), testRequest())

	if result.Outcome != UserNotFound {
		t.Fatalf("outcome = %s, want user_not_found", result.Outcome)
	}
	if !strings.Contains(result.Message, "case sensitive") {
		t.Fatalf("message must mention case sensitivity, got %q", result.Message)
	}
	if renderer.calls != 0 {
		t.Fatal("renderer must not run for an unknown user")
	}
	if deliverer.calls != 0 {
		t.Fatal("no mail for an unknown user")
	}
	if notifier.completed != 0 {
		t.Fatal("completion must not be announced")
	}
}

func TestProcessUpstreamOutageEndsLikeUnknownUser(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{err: errors.New("lookup user: connection refused")}
	renderer := &fakeRenderer{}

	orch := NewOrchestrator(fetcher, &fakeQuota{}, renderer, &fakeDeliverer{}, &fakeNotifier{}, nil)
	result := orch.Process(context.Background(), testRequest())

	if result.Outcome != UserNotFound {
		t.Fatalf("outcome = %s, want user_not_found", result.Outcome)
	}
	if renderer.calls != 0 {
		t.Fatal("renderer must not run during an upstream outage")
	}
}

func TestProcessQuotaExceededSkipsRenderer(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{customization: altspace.Customization{ID: "12345", Raw: []byte("{}")}}
	renderer := &fakeRenderer{}

	orch := NewOrchestrator(fetcher, &fakeQuota{err: render.ErrQuotaExceeded}, renderer, &fakeDeliverer{}, &fakeNotifier{}, nil)
	result := orch.Process(context.Background(), testRequest())

	if result.Outcome != QuotaExceeded {
		t.Fatalf("outcome = %s, want quota_exceeded", result.Outcome)
	}
	if result.Message != "Exceeded limit for current email" {
		t.Fatalf("message = %q", result.Message)
	}
	if renderer.calls != 0 {
		t.Fatal("renderer must not run past the quota ceiling")
	}
}

func TestProcessRunsToCompletionAfterCallerDisconnects(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{customization: altspace.Customization{ID: "12345", Raw: []byte("{}")}}
	invoker := render.NewInvoker("blender", "assemble.blend", "avatar.py", t.TempDir(), false, 1, time.Minute).
		WithRunner(func(ctx context.Context, stdin io.Reader, binary string, args ...string) ([]byte, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return []byte("Blender quit"), nil
		})
	deliverer := &fakeDeliverer{}
	notifier := &fakeNotifier{}

	orch := NewOrchestrator(fetcher, &fakeQuota{}, invoker, deliverer, notifier, nil)

	// The inbound connection is already gone; the pipeline must still run
	// to completion rather than kill the render.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := orch.Process(ctx, testRequest())

	if result.Outcome != Delivered {
		t.Fatalf("outcome = %s, want delivered", result.Outcome)
	}
	if deliverer.calls != 1 {
		t.Fatalf("deliverer calls = %d, want 1", deliverer.calls)
	}
	if notifier.completed != 1 {
		t.Fatalf("completed notifications = %d, want 1", notifier.completed)
	}
}

func TestProcessQuotaIOFailureIsInternalError(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{customization: altspace.Customization{ID: "12345", Raw: []byte("{}")}}
	renderer := &fakeRenderer{}

	orch := NewOrchestrator(fetcher, &fakeQuota{err: errors.New("list output directory: permission denied")}, renderer, &fakeDeliverer{}, &fakeNotifier{}, nil)
	result := orch.Process(context.Background(), testRequest())

	if result.Outcome != RenderFailed {
		t.Fatalf("outcome = %s, want render_failed for a filesystem fault", result.Outcome)
	}
	if strings.Contains(result.Message, "Exceeded limit") {
		t.Fatalf("operational fault must not blame the requester's quota: %q", result.Message)
	}
	if renderer.calls != 0 {
		t.Fatal("renderer must not run when the quota count is unknown")
	}
}

func TestProcessRenderFailureSkipsDelivery(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{customization: altspace.Customization{ID: "12345", Raw: []byte("{}")}}
	renderer := &fakeRenderer{err: &render.ProcessError{Output: []byte("boom"), Err: errors.New("exit status 1")}}
	deliverer := &fakeDeliverer{}

	orch := NewOrchestrator(fetcher, &fakeQuota{}, renderer, deliverer, &fakeNotifier{}, nil)
	result := orch.Process(context.Background(), testRequest())

	if result.Outcome != RenderFailed {
		t.Fatalf("outcome = %s, want render_failed", result.Outcome)
	}
	if !strings.Contains(result.Message, "Failed to generate 3D model") {
		t.Fatalf("message = %q", result.Message)
	}
	if deliverer.calls != 0 {
		t.Fatal("delivery must not be attempted after a failed render")
	}
}

func TestProcessDeliveryFailureKeepsArtifact(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	artifact := filepath.Join(root, "a@x.com", "alice.fbx")
	if err := os.MkdirAll(filepath.Dir(artifact), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(artifact, []byte("fbx"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}

	fetcher := &fakeFetcher{customization: altspace.Customization{ID: "12345", Raw: []byte("{}")}}
	renderer := &fakeRenderer{artifact: artifact}
	deliverer := &fakeDeliverer{err: errors.New("relay unreachable")}
	notifier := &fakeNotifier{}

	orch := NewOrchestrator(fetcher, &fakeQuota{}, renderer, deliverer, notifier, nil)
	result := orch.Process(context.Background(), testRequest())

	if result.Outcome != DeliveryFailed {
		t.Fatalf("outcome = %s, want delivery_failed", result.Outcome)
	}
	if !strings.Contains(result.Message, "Failed to send email") {
		t.Fatalf("message = %q", result.Message)
	}
	if _, err := os.Stat(artifact); err != nil {
		t.Fatalf("artifact must stay on disk for the preview endpoint: %v", err)
	}
	if notifier.completed != 0 {
		t.Fatal("completion must not be announced for a failed delivery")
	}
}

func TestProcessPassesRendererFlagsThrough(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{customization: altspace.Customization{ID: "12345", Raw: []byte("{}")}}
	renderer := &fakeRenderer{artifact: "out/a@x.com/alice.fbx"}

	orch := NewOrchestrator(fetcher, &fakeQuota{}, renderer, &fakeDeliverer{}, &fakeNotifier{}, nil)
	req := testRequest()
	req.ExtraThicc = true
	orch.Process(context.Background(), req)

	if !renderer.opts.ExtraThicc || renderer.opts.Autorig {
		t.Fatalf("renderer options = %+v, want extra thicc only", renderer.opts)
	}
}

func TestProcessWritesOrderedRequestLog(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "requests.log")
	reqLog, err := requestlog.Open(path)
	if err != nil {
		t.Fatalf("open request log: %v", err)
	}
	defer reqLog.Close()

	fetcher := &fakeFetcher{customization: altspace.Customization{ID: "12345", Raw: []byte("{}")}}
	orch := NewOrchestrator(fetcher, &fakeQuota{}, &fakeRenderer{artifact: "out/a@x.com/alice.fbx"}, &fakeDeliverer{}, &fakeNotifier{}, reqLog)
	orch.Process(context.Background(), testRequest())

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read request log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected received + outcome lines, got %d: %q", len(lines), raw)
	}
	if !strings.Contains(lines[0], "received") || !strings.Contains(lines[1], "outcome=delivered") {
		t.Fatalf("unexpected event order: %q", lines)
	}
}
