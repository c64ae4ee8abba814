package manager

import (
	"context"
	"strings"
	"testing"
)

func TestStatusBeforeAndAfterLoad(t *testing.T) {
	m, _ := newTestManager(t, newFakeRuntime(), nil)
	st := m.Status()
	if st.State != string(StateIdle) || len(st.Components) != 0 || st.MaxQueueDepth != defaultMaxQueueDepth {
		t.Fatalf("unexpected idle status: %+v", st)
	}
	if _, err := m.GetOrLoadBundle(context.Background()); err != nil {
		t.Fatal(err)
	}
	st = m.Status()
	if st.State != string(StateReady) || st.Device != "cuda" || len(st.Components) != 4 {
		t.Fatalf("unexpected ready status: %+v", st)
	}
	if strings.Join(st.Resolutions, ",") != "low,standard,high" {
		t.Fatalf("resolutions=%v", st.Resolutions)
	}
}

func TestSanityCheck(t *testing.T) {
	m, _ := newTestManager(t, newFakeRuntime(), func(c *ManagerConfig) {
		c.RequiredBins = []string{"definitely-not-a-binary-xyz"}
	})
	r := m.SanityCheck()
	if r.OK || len(r.Missing) != 1 {
		t.Fatalf("expected missing binary: %+v", r)
	}
	if len(r.Components) != 4 {
		t.Fatalf("components not listed: %+v", r)
	}

	m2, _ := newTestManager(t, newFakeRuntime(), func(c *ManagerConfig) {
		c.Components = map[string]string{"vae": "missing/dir"}
	})
	if r := m2.SanityCheck(); r.OK || r.Error == "" {
		t.Fatalf("expected staging error: %+v", r)
	}
	if m2.Loaded() {
		t.Fatalf("sanity check must not load")
	}
}

func TestCloseClosesRuntime(t *testing.T) {
	rt := newFakeRuntime()
	m, _ := newTestManager(t, rt, nil)
	if err := m.Close(); err != nil || !rt.closed {
		t.Fatalf("runtime not closed: %v", err)
	}
}
