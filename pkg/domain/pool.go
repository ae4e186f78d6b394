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

package domain

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	azPattern   = regexp.MustCompile(`^[a-z]+-[a-z]+-\d+[a-z]$`)
	typePattern = regexp.MustCompile(`^[a-z0-9]+\.[a-z0-9]+$`)
)

// Pool is the (instance type, availability zone) pair candidates and prices
// are keyed on. The zero value is not valid; build one with NewPool or
// ParsePoolID.
type Pool struct {
	AZ   string
	Type string
}

// NewPool validates az and instanceType against the wire formats in §6.3
// before constructing a Pool.
func NewPool(az, instanceType string) (Pool, error) {
	if !azPattern.MatchString(az) {
		return Pool{}, fmt.Errorf("invalid availability zone %q", az)
	}
	if !typePattern.MatchString(instanceType) {
		return Pool{}, fmt.Errorf("invalid instance type %q", instanceType)
	}
	return Pool{AZ: az, Type: instanceType}, nil
}

// ID serializes the pool to its canonical "az:type" wire form.
func (p Pool) ID() string {
	return p.AZ + ":" + p.Type
}

// Region derives the region by dropping the trailing availability-zone
// letter, e.g. "us-east-1a" -> "us-east-1".
func (p Pool) Region() string {
	return Region(p.AZ)
}

// Region drops the trailing lowercase AZ letter to recover the region.
func Region(az string) string {
	if az == "" {
		return ""
	}
	return az[:len(az)-1]
}

// ParsePoolID parses the canonical "az:type" wire form back into a Pool.
// ParsePoolID(pool.ID()) always round-trips to an equal Pool (§8 round-trip
// invariant).
func ParsePoolID(id string) (Pool, error) {
	az, instanceType, ok := strings.Cut(id, ":")
	if !ok {
		return Pool{}, fmt.Errorf("malformed pool id %q: expected \"az:type\"", id)
	}
	return NewPool(az, instanceType)
}
