/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metrics

import (
	"context"
	"time"

	"github.com/herdguard/herdguard/pkg/domain"
	"github.com/herdguard/herdguard/pkg/pipeline"
)

// instrumentedActuator decorates an Actuator with VerdictsTotal and
// ActuationsTotal counters, without changing its behavior.
type instrumentedActuator struct {
	next pipeline.Actuator
	c    *Collectors
}

// InstrumentActuator wraps next so every Act call records the rendered
// verdict and its outcome.
func InstrumentActuator(next pipeline.Actuator, c *Collectors) pipeline.Actuator {
	return &instrumentedActuator{next: next, c: c}
}

func (a *instrumentedActuator) Act(ctx context.Context, verdict domain.Verdict, selected *domain.Candidate) (bool, error) {
	a.c.VerdictsTotal.WithLabelValues(string(verdict)).Inc()

	ok, err := a.next.Act(ctx, verdict, selected)

	outcome := "succeeded"
	if err != nil {
		outcome = "error"
	} else if !ok {
		outcome = "failed"
	}
	a.c.ActuationsTotal.WithLabelValues(string(verdict), outcome).Inc()
	return ok, err
}

// instrumentedSwitcher decorates a Switcher with SwitchDuration, timing
// how long a cloud-side switch takes.
type instrumentedSwitcher struct {
	next pipeline.Switcher
	c    *Collectors
}

// InstrumentSwitcher wraps next so every Switch call records its duration.
func InstrumentSwitcher(next pipeline.Switcher, c *Collectors) pipeline.Switcher {
	return &instrumentedSwitcher{next: next, c: c}
}

func (s *instrumentedSwitcher) Switch(ctx context.Context, verdict domain.Verdict, selected *domain.Candidate) error {
	start := time.Now()
	err := s.next.Switch(ctx, verdict, selected)

	outcome := "succeeded"
	if err != nil {
		outcome = "error"
	}
	s.c.SwitchDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return err
}
