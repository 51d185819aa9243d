package master

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/AHINK/mesos/pkg/actor"
)

const jsonContentType = "text/x-json;charset=UTF-8"

type frameworkJSON struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	User   string `json:"user"`
	Active bool   `json:"active"`
	Tasks  int    `json:"tasks"`
	Offers int    `json:"offers"`
}

type taskJSON struct {
	TaskID      string  `json:"task_id"`
	FrameworkID string  `json:"framework_id"`
	SlaveID     string  `json:"slave_id"`
	Name        string  `json:"name"`
	State       string  `json:"state"`
	CPUs        float64 `json:"cpus"`
	Mem         float64 `json:"mem"`
}

func (m *Master) installHTTP(ctx *actor.Context) {
	ctx.InstallHTTP("info.json", func(ctx *actor.Context, req *actor.HTTPRequest) (*actor.HTTPResponse, error) {
		body, err := json.Marshal(map[string]interface{}{
			"id":         m.id,
			"pid":        ctx.Self().String(),
			"uptime":     m.uptime().Seconds(),
			"frameworks": len(m.frameworks),
			"slaves":     len(m.slaves),
		})
		if err != nil {
			return nil, err
		}
		return actor.OK(jsonContentType, body), nil
	})

	ctx.InstallHTTP("frameworks.json", func(ctx *actor.Context, req *actor.HTTPRequest) (*actor.HTTPResponse, error) {
		out := make([]frameworkJSON, 0, len(m.frameworks))
		for _, fw := range m.frameworks {
			out = append(out, frameworkJSON{
				ID:     string(fw.ID),
				Name:   fw.Info.Name,
				User:   fw.Info.User,
				Active: fw.Active,
				Tasks:  len(fw.Tasks),
				Offers: len(fw.Offers),
			})
		}
		body, err := json.Marshal(out)
		if err != nil {
			return nil, err
		}
		return actor.OK(jsonContentType, body), nil
	})

	ctx.InstallHTTP("tasks.json", func(ctx *actor.Context, req *actor.HTTPRequest) (*actor.HTTPResponse, error) {
		out := make([]taskJSON, 0)
		for _, fw := range m.frameworks {
			for _, task := range fw.Tasks {
				out = append(out, taskJSON{
					TaskID:      string(task.ID),
					FrameworkID: string(task.FrameworkID),
					SlaveID:     string(task.SlaveID),
					Name:        task.Name,
					State:       task.State.String(),
					CPUs:        task.Resources.Get("cpus"),
					Mem:         task.Resources.Get("mem"),
				})
			}
		}
		body, err := json.Marshal(out)
		if err != nil {
			return nil, err
		}
		return actor.OK(jsonContentType, body), nil
	})

	ctx.InstallHTTP("slaves.json", func(ctx *actor.Context, req *actor.HTTPRequest) (*actor.HTTPResponse, error) {
		type slaveJSON struct {
			ID        string `json:"id"`
			Hostname  string `json:"hostname"`
			Total     string `json:"total"`
			Available string `json:"available"`
			Tasks     int    `json:"tasks"`
		}
		out := make([]slaveJSON, 0, len(m.slaves))
		for _, slave := range m.slaves {
			out = append(out, slaveJSON{
				ID:        string(slave.ID),
				Hostname:  slave.Info.Hostname,
				Total:     slave.Total.String(),
				Available: slave.Available.String(),
				Tasks:     len(slave.Tasks),
			})
		}
		body, err := json.Marshal(out)
		if err != nil {
			return nil, err
		}
		return actor.OK(jsonContentType, body), nil
	})

	ctx.InstallHTTP("stats.json", func(ctx *actor.Context, req *actor.HTTPRequest) (*actor.HTTPResponse, error) {
		body, err := json.Marshal(m.statsMap())
		if err != nil {
			return nil, err
		}
		return actor.OK(jsonContentType, body), nil
	})

	ctx.InstallHTTP("vars", func(ctx *actor.Context, req *actor.HTTPRequest) (*actor.HTTPResponse, error) {
		var b strings.Builder
		for _, kv := range m.statsPairs() {
			fmt.Fprintf(&b, "%s %v\n", kv.key, kv.value)
		}
		return actor.OK("text/plain", []byte(b.String())), nil
	})
}

func (m *Master) uptime() time.Duration {
	return m.clk.Mono().Sub(m.startTime)
}

type statPair struct {
	key   string
	value interface{}
}

func (m *Master) statsPairs() []statPair {
	activeTasks := 0
	for _, fw := range m.frameworks {
		activeTasks += len(fw.Tasks)
	}
	return []statPair{
		{"uptime", m.uptime().Seconds()},
		{"total_frameworks", len(m.frameworks)},
		{"total_slaves", len(m.slaves)},
		{"active_tasks", activeTasks},
		{"outstanding_offers", len(m.offers)},
		{"launched_tasks", m.stats.LaunchedTasks.Load()},
		{"finished_tasks", m.stats.FinishedTasks.Load()},
		{"killed_tasks", m.stats.KilledTasks.Load()},
		{"failed_tasks", m.stats.FailedTasks.Load()},
		{"lost_tasks", m.stats.LostTasks.Load()},
		{"valid_status_updates", m.stats.ValidStatusUpdates.Load()},
		{"invalid_status_updates", m.stats.InvalidStatusUpdates.Load()},
		{"valid_framework_messages", m.stats.ValidFrameworkMessages.Load()},
		{"invalid_framework_messages", m.stats.InvalidFrameworkMessages.Load()},
	}
}

func (m *Master) statsMap() map[string]interface{} {
	out := make(map[string]interface{})
	for _, kv := range m.statsPairs() {
		out[kv.key] = kv.value
	}
	return out
}
