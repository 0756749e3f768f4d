package runner

import (
	"sort"
	"time"

	"github.com/modelnet-labs/modelnet/internal/models"
)

// NetworkReport is the per-network slice of the aggregate status object.
type NetworkReport struct {
	NetworkID        string               `json:"network_id"`
	ModelID          string               `json:"model_id"`
	Endpoint         string               `json:"endpoint"`
	Status           models.NetworkStatus `json:"status"`
	StartTime        time.Time            `json:"start_time,omitempty"`
	UptimeSeconds    float64              `json:"uptime_seconds"`
	LastHeartbeat    time.Time            `json:"last_heartbeat,omitempty"`
	ConnectedClients int                  `json:"connected_clients"`
	RequestCount     uint64               `json:"request_count"`
	ErrorCount       uint64               `json:"error_count"`
	Load             int                  `json:"load"`
	RecentErrors     []string             `json:"recent_errors,omitempty"`
}

// Report is the aggregate status object polled by external tooling.
type Report struct {
	NodeID          string               `json:"node_id"`
	Status          string               `json:"status"`
	UptimeSeconds   float64              `json:"uptime_seconds"`
	LicenseStatus   models.LicenseStatus `json:"license_status"`
	LicenseTier     string               `json:"license_tier,omitempty"`
	NetworksRunning int                  `json:"networks_running"`
	NetworksTotal   int                  `json:"networks_total"`
	TotalRequests   uint64               `json:"total_requests"`
	TotalErrors     uint64               `json:"total_errors"`
	Networks        []NetworkReport      `json:"networks"`
}

// Status builds the aggregate status report.
func (r *Runner) Status() Report {
	lic := r.validator.CurrentLicense()

	r.mu.RLock()
	defer r.mu.RUnlock()

	report := Report{
		NodeID:        r.opts.NodeID,
		Status:        "running",
		UptimeSeconds: time.Since(r.startTime).Seconds(),
		LicenseStatus: lic.Status(),
		NetworksTotal: len(r.networks),
	}
	if lic != nil {
		report.LicenseTier = lic.Tier.String()
	}
	if r.startTime.IsZero() {
		report.Status = "stopped"
		report.UptimeSeconds = 0
	}

	for _, svc := range r.networks {
		nr := NetworkReport{
			NetworkID:     svc.Config.NetworkID,
			ModelID:       svc.Config.ModelID,
			Endpoint:      svc.Config.Endpoint(),
			Status:        svc.Status(),
			StartTime:     svc.StartTime(),
			LastHeartbeat: svc.LastHeartbeat(),
			RecentErrors:  svc.RecentErrors(),
		}
		if !nr.StartTime.IsZero() {
			nr.UptimeSeconds = time.Since(nr.StartTime).Seconds()
		}
		if ln := svc.Listener(); ln != nil {
			st := ln.Stats()
			nr.ConnectedClients = st.ConnectedClients
			nr.RequestCount = st.RequestCount
			nr.ErrorCount = st.ErrorCount
			nr.Load = st.Load
			nr.Endpoint = ln.Addr()
		}
		if nr.Status == models.NetworkRunning {
			report.NetworksRunning++
		}
		report.TotalRequests += nr.RequestCount
		report.TotalErrors += nr.ErrorCount
		report.Networks = append(report.Networks, nr)
	}
	sort.Slice(report.Networks, func(i, j int) bool {
		return report.Networks[i].NetworkID < report.Networks[j].NetworkID
	})
	return report
}
