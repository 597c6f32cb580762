package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/common"
	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/storage"
	"github.com/zoro11031/homelab-coreos-minipc/nvme-models/internal/ui"
)

// RenderModels prints models as a table.
func RenderModels(u *ui.UI, models []storage.Model, now time.Time) {
	rows := make([][]string, 0, len(models))
	for _, m := range models {
		modified := "-"
		if !m.ModifiedAt.IsZero() {
			modified = common.HumanAge(now.Sub(m.ModifiedAt)) + " ago"
		}
		rows = append(rows, []string{m.Provider, m.Name, common.HumanBytes(uint64(m.SizeBytes)), modified, m.Path})
	}
	u.Table([]string{"Provider", "Name", "Size", "Modified", "Path"}, rows)
}

// RenderModelInfo prints one model and the result of each check.
func RenderModelInfo(u *ui.UI, info *storage.ModelInfo) {
	u.Header(info.ModelID)
	u.KeyValue("Provider", info.Provider)
	if info.Path != "" {
		u.KeyValue("Path", info.Path)
	}
	if info.Exists {
		u.KeyValue("Size", common.HumanBytes(uint64(info.SizeBytes)))
	}
	if r := info.Receipt; r != nil {
		u.KeyValue("Downloaded", r.DownloadedAt.Format("2006-01-02 15:04 MST"))
		if r.Tool != "" {
			u.KeyValue("Tool", r.Tool)
		}
	}
	u.KeyValue("Status", string(info.Status))

	u.Print("")
	rows := make([][]string, 0, len(info.Checks))
	for _, c := range info.Checks {
		rows = append(rows, []string{c.Name, string(c.State), c.Message})
	}
	u.Table([]string{"Check", "Status", "Details"}, rows)
}

// ServiceState is an optional line in the status output.
type ServiceState struct {
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// StatusView is the JSON form of the status command.
type StatusView struct {
	*storage.Report
	SetupCompletedAt *time.Time     `json:"setup_completed_at,omitempty"`
	Services         []ServiceState `json:"services,omitempty"`
	MissingTools     []string       `json:"missing_tools,omitempty"`
}

// RenderStatus prints a storage report for humans.
func RenderStatus(u *ui.UI, v StatusView, now time.Time) {
	r := v.Report
	u.Header("NVMe Model Storage")

	mounted := "no"
	if r.Mount.Mounted {
		mounted = "yes"
		if r.Mount.FSType != "" {
			mounted += " (" + r.Mount.FSType + ")"
		}
	}
	u.KeyValue("Base path", r.BasePath)
	u.KeyValue("Mounted", mounted)
	if r.Mount.Source != "" {
		u.KeyValue("Device", r.Mount.Source)
	}
	if r.Usage.Total > 0 {
		u.KeyValue("Usage", fmt.Sprintf("%s used of %s (%.1f%%)",
			common.HumanBytes(r.Usage.Used), common.HumanBytes(r.Usage.Total), r.Usage.UsedPercent()))
	}
	u.KeyValue("Free", fmt.Sprintf("%s (reserve %s)", common.HumanBytes(r.Mount.AvailableBytes), common.HumanBytes(r.ReserveBytes)))
	u.KeyValue("Models", r.Models)

	lock := "free"
	if r.Lock.Held {
		lock = "held"
		if h := r.Lock.Holder; h != nil && h.PID != 0 {
			lock = fmt.Sprintf("held by pid %d (%s %s, %s)", h.PID, h.Operation, h.ModelID, common.HumanAge(now.Sub(h.StartedAt)))
		}
	}
	u.KeyValue("Lock", lock)

	if v.SetupCompletedAt != nil {
		u.KeyValue("Setup", "completed "+common.HumanAge(now.Sub(*v.SetupCompletedAt))+" ago")
	} else {
		u.KeyValue("Setup", "not run")
	}
	if len(v.MissingTools) > 0 {
		u.KeyValue("Missing tools", strings.Join(v.MissingTools, ", "))
	}
	for _, s := range v.Services {
		state := "inactive"
		if s.Active {
			state = "active"
		}
		u.KeyValue(s.Name, state)
	}

	u.Print("")
	rows := make([][]string, 0, len(r.Directories))
	for _, d := range r.Directories {
		state := "ok"
		if !d.Exists {
			state = "missing"
		}
		rows = append(rows, []string{d.Path, state, common.HumanBytes(uint64(d.SizeBytes)), fmt.Sprint(d.Staging), fmt.Sprint(d.Backups)})
	}
	u.Table([]string{"Directory", "State", "Size", "Staging", "Backups"}, rows)

	if len(r.Links) > 0 {
		u.Print("")
		rows = rows[:0]
		for _, l := range r.Links {
			rows = append(rows, []string{l.Path, l.Target, string(l.Action)})
		}
		u.Table([]string{"Link", "Target", "State"}, rows)
	}

	for _, p := range r.Problems {
		u.Warning(p)
	}
}
