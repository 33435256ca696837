package obs

import (
	"runtime"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                   "/",
		"/metrics":                           "/metrics",
		"/v1/orgs":                           "/v1/orgs",
		"/v1/orgs/acme":                      "/v1/orgs/:id",
		"/v1/orgs/acme/proposals/7/votes":    "/v1/orgs/:id/proposals/:id/votes",
		"/v1/orgs/acme/treasury/deposit":     "/v1/orgs/:id/treasury/deposit",
		"/v1/orgs/acme/roles/alice":          "/v1/orgs/:id/roles/:id",
		"/v1/orgs/acme/stakes/sync":          "/v1/orgs/:id/stakes/sync",
		"/v1/ledger/accounts/bob":            "/v1/ledger/accounts/:id",
		"/v1/ledger/transactions?limit=10":   "/v1/ledger/transactions",
		"/v1/orgs/acme/vaults/01J0/withdraw": "/v1/orgs/:id/vaults/:id/withdraw",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestSetBuildInfoKeepsOneSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(buildInfo, organizations)
	SetBuildInfo("0.1.0", "abc")
	SetBuildInfo("0.2.0", "def")
	SetOrganizations(3)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	got := map[string]float64{}
	for _, mf := range families {
		metrics := mf.GetMetric()
		if mf.GetName() == "guildhall_build_info" {
			if len(metrics) != 1 {
				t.Fatalf("expected one build_info series, got %d", len(metrics))
			}
			labels := map[string]string{}
			for _, lp := range metrics[0].GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["version"] != "0.2.0" || labels["go_version"] != runtime.Version() {
				t.Fatalf("unexpected labels %v", labels)
			}
		}
		got[mf.GetName()] = metrics[0].GetGauge().GetValue()
	}
	if got["guildhall_build_info"] != 1 || got["guildhall_organizations"] != 3 {
		t.Fatalf("unexpected gauges %v", got)
	}
}
