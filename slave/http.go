package slave

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/AHINK/mesos/pkg/actor"
)

const jsonContentType = "text/x-json;charset=UTF-8"

func (s *Slave) installHTTP(ctx *actor.Context) {
	ctx.InstallHTTP("info.json", func(ctx *actor.Context, req *actor.HTTPRequest) (*actor.HTTPResponse, error) {
		body, err := json.Marshal(map[string]interface{}{
			"id":        string(s.id),
			"pid":       ctx.Self().String(),
			"hostname":  s.info.Hostname,
			"master":    s.master.String(),
			"uptime":    s.uptime().Seconds(),
			"resources": s.info.Resources.String(),
		})
		if err != nil {
			return nil, err
		}
		return actor.OK(jsonContentType, body), nil
	})

	ctx.InstallHTTP("frameworks.json", func(ctx *actor.Context, req *actor.HTTPRequest) (*actor.HTTPResponse, error) {
		type frameworkJSON struct {
			ID        string `json:"id"`
			Name      string `json:"name"`
			User      string `json:"user"`
			Executors int    `json:"executors"`
		}
		out := make([]frameworkJSON, 0, len(s.frameworks))
		for _, fw := range s.frameworks {
			out = append(out, frameworkJSON{
				ID:        string(fw.ID),
				Name:      fw.Info.Name,
				User:      fw.Info.User,
				Executors: len(fw.Executors),
			})
		}
		body, err := json.Marshal(out)
		if err != nil {
			return nil, err
		}
		return actor.OK(jsonContentType, body), nil
	})

	ctx.InstallHTTP("tasks.json", func(ctx *actor.Context, req *actor.HTTPRequest) (*actor.HTTPResponse, error) {
		type taskJSON struct {
			TaskID      string  `json:"task_id"`
			FrameworkID string  `json:"framework_id"`
			ExecutorID  string  `json:"executor_id"`
			Name        string  `json:"name"`
			State       string  `json:"state"`
			CPUs        float64 `json:"cpus"`
			Mem         float64 `json:"mem"`
		}
		out := make([]taskJSON, 0)
		for _, fw := range s.frameworks {
			for _, exec := range fw.Executors {
				for _, task := range exec.Tasks {
					out = append(out, taskJSON{
						TaskID:      string(task.ID),
						FrameworkID: string(task.FrameworkID),
						ExecutorID:  string(task.ExecutorID),
						Name:        task.Name,
						State:       task.State.String(),
						CPUs:        task.Resources.Get("cpus"),
						Mem:         task.Resources.Get("mem"),
					})
				}
			}
		}
		body, err := json.Marshal(out)
		if err != nil {
			return nil, err
		}
		return actor.OK(jsonContentType, body), nil
	})

	ctx.InstallHTTP("stats.json", func(ctx *actor.Context, req *actor.HTTPRequest) (*actor.HTTPResponse, error) {
		body, err := json.Marshal(s.statsMap())
		if err != nil {
			return nil, err
		}
		return actor.OK(jsonContentType, body), nil
	})

	ctx.InstallHTTP("vars", func(ctx *actor.Context, req *actor.HTTPRequest) (*actor.HTTPResponse, error) {
		var b strings.Builder
		for _, kv := range s.statsPairs() {
			fmt.Fprintf(&b, "%s %v\n", kv.key, kv.value)
		}
		return actor.OK("text/plain", []byte(b.String())), nil
	})
}

func (s *Slave) uptime() time.Duration {
	return s.clk.Mono().Sub(s.startTime)
}

type statPair struct {
	key   string
	value interface{}
}

func (s *Slave) statsPairs() []statPair {
	executors := 0
	for _, fw := range s.frameworks {
		executors += len(fw.Executors)
	}
	return []statPair{
		{"uptime", s.uptime().Seconds()},
		{"total_frameworks", len(s.frameworks)},
		{"total_executors", executors},
		{"launched_tasks", s.stats.LaunchedTasks.Load()},
		{"finished_tasks", s.stats.FinishedTasks.Load()},
		{"killed_tasks", s.stats.KilledTasks.Load()},
		{"failed_tasks", s.stats.FailedTasks.Load()},
		{"lost_tasks", s.stats.LostTasks.Load()},
		{"valid_status_updates", s.stats.ValidStatusUpdates.Load()},
		{"invalid_status_updates", s.stats.InvalidStatusUpdates.Load()},
		{"valid_framework_messages", s.stats.ValidFrameworkMessages.Load()},
		{"invalid_framework_messages", s.stats.InvalidFrameworkMessages.Load()},
	}
}

func (s *Slave) statsMap() map[string]interface{} {
	out := make(map[string]interface{})
	for _, kv := range s.statsPairs() {
		out[kv.key] = kv.value
	}
	return out
}
