// Package plugins - scheduler.go
//
// This file implements cron-based scheduled emission, letting plugins and
// external agents arrange for hooks to fire on a recurring schedule without
// owning a goroutine per job.
//
// A single cron instance backs every job. Jobs are named; scheduling under a
// taken name replaces the previous job, and removal is a no-op for unknown
// names. Each job fire emits its hook through the deferred-emission protocol,
// so scheduled events obey the same ordering rules as plugin emits.
//
// Hooks:
//
//	agent:scheduleJob  {name, spec, hook, event?} -> {name, next}
//	agent:removeJob    {name}                     -> {removed}
//	api:listJobs       {}                         -> [{name, spec, hook, next}]
//
// Standard 5-field cron syntax plus the @hourly/@daily/@weekly shortcuts are
// accepted. A job that panics is recovered and logged; it runs again at its
// next scheduled time.
package plugins

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/codetalcott/fixiplug/hooks"
)

// JobInfo is the api:listJobs row for one scheduled job.
type JobInfo struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Hook string    `json:"hook"`
	Next time.Time `json:"next"`
}

// Scheduler owns the shared cron instance and the job table.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger

	mu   sync.Mutex
	jobs map[string]scheduledJob
}

type scheduledJob struct {
	id   cron.EntryID
	spec string
	hook string
}

// NewScheduler creates a stopped scheduler; the cron loop starts when the
// plugin's setup runs.
func NewScheduler(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		log:  log,
		jobs: make(map[string]scheduledJob),
	}
}

// Plugin wraps the scheduler as the "scheduler" plugin.
func (s *Scheduler) Plugin() *hooks.Plugin {
	return &hooks.Plugin{
		Name: "scheduler",
		Setup: func(ctx *hooks.Ctx) error {
			s.cron.Start()

			ctx.On("agent:scheduleJob", func(_ context.Context, event hooks.Event) (any, error) {
				name, _ := event.String("name")
				spec, _ := event.String("spec")
				hook, _ := event.String("hook")
				if name == "" || spec == "" || hook == "" {
					return nil, hooks.CallerError(hooks.NewError(hooks.KindBadRequest,
						"agent:scheduleJob requires name, spec and hook"))
				}
				payload, _ := event.Map("event")
				next, err := s.schedule(ctx, name, spec, hook, payload)
				if err != nil {
					return nil, hooks.CallerError(err)
				}
				return map[string]any{"name": name, "next": next}, nil
			})

			ctx.On("agent:removeJob", func(_ context.Context, event hooks.Event) (any, error) {
				name, _ := event.String("name")
				return map[string]any{"removed": s.remove(name)}, nil
			})

			ctx.On("api:listJobs", func(_ context.Context, _ hooks.Event) (any, error) {
				return s.list(), nil
			})

			return nil
		},
	}
}

// schedule adds or replaces the named job.
func (s *Scheduler) schedule(ctx *hooks.Ctx, name, spec, hook string, payload map[string]any) (time.Time, error) {
	job := func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error().Str("job", name).Interface("panic", r).Msg("scheduled job panicked")
			}
		}()
		event := hooks.Event{}
		for key, value := range payload {
			event[key] = value
		}
		ctx.Emit(hook, event)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(spec, job)
	if err != nil {
		return time.Time{}, hooks.NewError(hooks.KindBadRequest, "invalid cron spec %q", spec).
			WithDetails(err.Error())
	}
	if existing, ok := s.jobs[name]; ok {
		s.cron.Remove(existing.id)
	}
	s.jobs[name] = scheduledJob{id: id, spec: spec, hook: hook}

	s.log.Info().Str("job", name).Str("spec", spec).Str("hook", hook).Msg("job scheduled")
	return s.cron.Entry(id).Next, nil
}

// remove deletes the named job, reporting whether it existed.
func (s *Scheduler) remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[name]
	if !ok {
		return false
	}
	s.cron.Remove(job.id)
	delete(s.jobs, name)
	s.log.Info().Str("job", name).Msg("job removed")
	return true
}

// list returns every scheduled job sorted by name.
func (s *Scheduler) list() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for name, job := range s.jobs {
		infos = append(infos, JobInfo{
			Name: name,
			Spec: job.spec,
			Hook: job.hook,
			Next: s.cron.Entry(job.id).Next,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Close stops the cron loop, waiting for a running job to finish.
func (s *Scheduler) Close() error {
	<-s.cron.Stop().Done()
	return nil
}
