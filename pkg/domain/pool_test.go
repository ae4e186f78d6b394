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

package domain_test

import (
	"testing"

	"github.com/herdguard/herdguard/pkg/domain"
)

func TestPoolIDRoundTrip(t *testing.T) {
	cases := []struct{ az, instanceType string }{
		{"us-east-1a", "c5.large"},
		{"us-west-2c", "m5.xlarge"},
		{"eu-central-1b", "c5n.9xlarge"},
	}
	for _, c := range cases {
		p, err := domain.NewPool(c.az, c.instanceType)
		if err != nil {
			t.Fatalf("NewPool(%s, %s): %v", c.az, c.instanceType, err)
		}
		got, err := domain.ParsePoolID(p.ID())
		if err != nil {
			t.Fatalf("ParsePoolID(%s): %v", p.ID(), err)
		}
		if got != p {
			t.Errorf("round trip mismatch: got %+v, want %+v", got, p)
		}
	}
}

func TestPoolIDFormat(t *testing.T) {
	p, err := domain.NewPool("us-east-1a", "c5.large")
	if err != nil {
		t.Fatal(err)
	}
	if p.ID() != "us-east-1a:c5.large" {
		t.Errorf("ID() = %q, want %q", p.ID(), "us-east-1a:c5.large")
	}
}

func TestRegionDerivation(t *testing.T) {
	p, err := domain.NewPool("us-east-1a", "c5.large")
	if err != nil {
		t.Fatal(err)
	}
	if p.Region() != "us-east-1" {
		t.Errorf("Region() = %q, want %q", p.Region(), "us-east-1")
	}
}

func TestNewPoolRejectsInvalid(t *testing.T) {
	cases := []struct{ az, instanceType string }{
		{"US-EAST-1A", "c5.large"},
		{"us-east-1", "c5.large"},
		{"us-east-1a", "c5large"},
		{"us-east-1a", ""},
	}
	for _, c := range cases {
		if _, err := domain.NewPool(c.az, c.instanceType); err == nil {
			t.Errorf("NewPool(%s, %s) expected error, got nil", c.az, c.instanceType)
		}
	}
}

func TestParsePoolIDMalformed(t *testing.T) {
	if _, err := domain.ParsePoolID("not-a-pool-id"); err == nil {
		t.Error("expected error for malformed pool id")
	}
}
