package quality

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/harrison/cadence/internal/models"
)

// Probe kinds
const (
	ProbeTCP     = "tcp"
	ProbeHTTP    = "http"
	ProbeCommand = "command"
)

// Probe checks one peripheral service.
type Probe struct {
	Name   string
	Kind   string
	Target string // {port:N} expands to the artifact's port base + N
}

var portPlaceholder = regexp.MustCompile(`\{port:(\d+)\}`)

// Expand substitutes port placeholders with ports of the block at base.
func (p Probe) Expand(base int) string {
	return portPlaceholder.ReplaceAllStringFunc(p.Target, func(m string) string {
		n, _ := strconv.Atoi(portPlaceholder.FindStringSubmatch(m)[1])
		return strconv.Itoa(base + n)
	})
}

// ReadinessGate polls every probe until all report ready. Expiry of the
// timeout is a critical, non-retried failure for the attempt.
type ReadinessGate struct {
	Probes   []Probe
	Timeout  time.Duration
	Interval time.Duration
	Runner   CommandRunner
	Client   *http.Client
}

// NewReadinessGate creates a readiness gate with the given bounds.
func NewReadinessGate(probes []Probe, timeout, interval time.Duration) *ReadinessGate {
	return &ReadinessGate{
		Probes:   probes,
		Timeout:  timeout,
		Interval: interval,
		Runner:   ShellRunner{},
		Client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// Name implements Gate.
func (g *ReadinessGate) Name() string { return "readiness" }

// Check implements Gate.
func (g *ReadinessGate) Check(ctx context.Context, a *models.Artifact) Result {
	if len(g.Probes) == 0 {
		return Result{Passed: true}
	}

	ctx, cancel := context.WithTimeout(ctx, g.Timeout)
	defer cancel()

	pending := make([]Probe, len(g.Probes))
	copy(pending, g.Probes)
	lastErr := make(map[string]error)

	ticker := time.NewTicker(g.Interval)
	defer ticker.Stop()

	for {
		var still []Probe
		for _, p := range pending {
			if err := g.probe(ctx, p, a); err != nil {
				lastErr[p.Name] = err
				still = append(still, p)
			}
		}
		pending = still
		if len(pending) == 0 {
			return Result{Passed: true}
		}

		select {
		case <-ctx.Done():
			var names []string
			for _, p := range pending {
				names = append(names, fmt.Sprintf("%s (%v)", p.Name, lastErr[p.Name]))
			}
			return fail(issue(models.SeverityCritical, "timeout",
				fmt.Sprintf("services not ready after %v: %s", g.Timeout, strings.Join(names, "; "))))
		case <-ticker.C:
		}
	}
}

func (g *ReadinessGate) probe(ctx context.Context, p Probe, a *models.Artifact) error {
	target := p.Expand(a.PortBase)
	switch p.Kind {
	case ProbeTCP:
		var d net.Dialer
		dialCtx, cancel := context.WithTimeout(ctx, g.Interval)
		defer cancel()
		conn, err := d.DialContext(dialCtx, "tcp", target)
		if err != nil {
			return err
		}
		return conn.Close()

	case ProbeHTTP:
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return err
		}
		resp, err := g.Client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		return nil

	case ProbeCommand:
		out, err := g.Runner.Run(ctx, a.Dir, target)
		if err != nil {
			return fmt.Errorf("%w: %s", err, strings.TrimSpace(out))
		}
		return nil

	default:
		return fmt.Errorf("unknown probe kind %q", p.Kind)
	}
}
