package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const controlMethod = "/orrery.control.v1.ControlService/"

func newControlCollector(t *testing.T) (*ControlCollector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	c, err := NewControlCollector(reg)
	if err != nil {
		t.Fatalf("NewControlCollector: %v", err)
	}
	return c, reg
}

func TestUnaryInterceptorCountsCalls(t *testing.T) {
	c, reg := newControlCollector(t)
	intercept := c.UnaryServerInterceptor()

	ok := func(context.Context, any) (any, error) { return "ok", nil }
	missing := func(context.Context, any) (any, error) { return nil, status.Error(codes.NotFound, "no such body") }

	if _, err := intercept(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: controlMethod + "SetTimeScale"}, ok); err != nil {
		t.Fatalf("SetTimeScale: %v", err)
	}
	if _, err := intercept(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: controlMethod + "SelectBody"}, missing); status.Code(err) != codes.NotFound {
		t.Fatalf("SelectBody err = %v, want NotFound", err)
	}

	if got := testutil.ToFloat64(c.Calls.WithLabelValues("ControlService", "SetTimeScale", "OK")); got != 1 {
		t.Fatalf("SetTimeScale OK calls = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.Calls.WithLabelValues("ControlService", "SelectBody", "NotFound")); got != 1 {
		t.Fatalf("SelectBody NotFound calls = %v, want 1", got)
	}
	if n := histogramSampleCount(t, reg, "orrery_control_call_duration_seconds", map[string]string{"method": "SetTimeScale"}); n != 1 {
		t.Fatalf("latency samples = %d, want 1", n)
	}
}

type sendingStream struct {
	grpc.ServerStream
	fail bool
}

func (s sendingStream) SendMsg(any) error {
	if s.fail {
		return status.Error(codes.Unavailable, "gone")
	}
	return nil
}

func TestStreamInterceptorCountsMessages(t *testing.T) {
	c, _ := newControlCollector(t)
	intercept := c.StreamServerInterceptor()
	info := &grpc.StreamServerInfo{FullMethod: controlMethod + "StreamEvents", IsServerStream: true}

	err := intercept(nil, sendingStream{}, info, func(_ any, ss grpc.ServerStream) error {
		if got := testutil.ToFloat64(c.OpenStreams); got != 1 {
			t.Errorf("open streams inside handler = %v, want 1", got)
		}
		for i := 0; i < 3; i++ {
			if err := ss.SendMsg(i); err != nil {
				return err
			}
		}
		return status.Error(codes.Canceled, "client left")
	})
	if status.Code(err) != codes.Canceled {
		t.Fatalf("err = %v, want Canceled", err)
	}
	_ = intercept(nil, sendingStream{fail: true}, info, func(_ any, ss grpc.ServerStream) error {
		return ss.SendMsg("dropped")
	})

	if got := testutil.ToFloat64(c.OpenStreams); got != 0 {
		t.Fatalf("open streams after handlers = %v, want 0", got)
	}
	if got := testutil.ToFloat64(c.StreamMessages.WithLabelValues("ControlService", "StreamEvents")); got != 3 {
		t.Fatalf("stream messages = %v, want 3", got)
	}
	if got := testutil.ToFloat64(c.Calls.WithLabelValues("ControlService", "StreamEvents", "Unavailable")); got != 1 {
		t.Fatalf("Unavailable stream calls = %v, want 1", got)
	}
}

func TestNilCollectorPassesThrough(t *testing.T) {
	var c *ControlCollector
	resp, err := c.UnaryServerInterceptor()(context.Background(), nil, &grpc.UnaryServerInfo{}, func(context.Context, any) (any, error) {
		return 42, nil
	})
	if err != nil || resp != 42 {
		t.Fatalf("resp, err = %v, %v", resp, err)
	}
	c.SetCatalogCounts(1, 1)
}

func TestHandlerServesCatalogGauges(t *testing.T) {
	c, _ := newControlCollector(t)
	c.SetCatalogCounts(10, 3)
	c.Calls.WithLabelValues("ControlService", "GetState", "OK").Inc()

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		"orrery_catalog_bodies 10",
		"orrery_catalog_scenarios 3",
		`orrery_control_calls_total{code="OK",method="GetState",service="ControlService"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("/metrics missing %q:\n%s", want, body)
		}
	}
}

func TestCollectorsShareRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewControlCollector(reg)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := NewControlCollector(reg)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	first.Bodies.Set(4)
	if got := testutil.ToFloat64(second.Bodies); got != 4 {
		t.Fatalf("second.Bodies = %v, want 4", got)
	}
}

func TestRegistrationTypeClash(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "orrery_catalog_bodies", Help: "Bodies in the knowledge base."}))
	if _, err := NewControlCollector(reg); err == nil {
		t.Fatalf("expected error when a counter already holds orrery_catalog_bodies")
	}
}

func TestSplitMethod(t *testing.T) {
	cases := []struct {
		in, service, method string
	}{
		{controlMethod + "GetState", "ControlService", "GetState"},
		{"ControlService/GetState", "ControlService", "GetState"},
		{"a/b/c", "b", "c"},
		{"", "unknown", "unknown"},
		{"/GetState", "unknown", "unknown"},
		{"/svc/", "svc", "unknown"},
	}
	for _, tc := range cases {
		s, m := SplitMethod(tc.in)
		if s != tc.service || m != tc.method {
			t.Fatalf("SplitMethod(%q) = %q, %q, want %q, %q", tc.in, s, m, tc.service, tc.method)
		}
	}
}

func histogramSampleCount(t *testing.T, g prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()
	families, err := g.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if hasLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func hasLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	found := 0
	for _, lp := range pairs {
		if v, ok := want[lp.GetName()]; ok && v == lp.GetValue() {
			found++
		}
	}
	return found == len(want)
}
