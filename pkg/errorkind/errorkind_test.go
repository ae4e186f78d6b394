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

package errorkind_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/herdguard/herdguard/pkg/errorkind"
)

func TestWrapAndIs(t *testing.T) {
	base := errors.New("dial tcp: timeout")
	err := errorkind.Wrap(errorkind.TransientUpstream, base, "provider", "ec2")

	if !errorkind.Is(err, errorkind.TransientUpstream) {
		t.Fatalf("expected TransientUpstream, got kind=%s", errorkind.KindOf(err))
	}
	if errorkind.Is(err, errorkind.NotFound) {
		t.Fatalf("should not match NotFound")
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected errors.Is to see through the kind wrapper to base")
	}
}

func TestRetriable(t *testing.T) {
	cases := []struct {
		kind decisionKindCase
		want bool
	}{
		{decisionKindCase{errorkind.TransientUpstream}, true},
		{decisionKindCase{errorkind.Validation}, false},
		{decisionKindCase{errorkind.Conflict}, false},
		{decisionKindCase{errorkind.NotFound}, false},
	}
	for _, c := range cases {
		err := errorkind.New(c.kind.k, "boom")
		if got := errorkind.Retriable(err); got != c.want {
			t.Errorf("Retriable(%s) = %v, want %v", c.kind.k, got, c.want)
		}
	}
}

type decisionKindCase struct{ k errorkind.Kind }

func TestHTTPStatus(t *testing.T) {
	cases := map[errorkind.Kind]int{
		errorkind.Validation:        400,
		errorkind.DataGap:           400,
		errorkind.Auth:              401,
		errorkind.NotFound:          404,
		errorkind.Conflict:          409,
		errorkind.TransientUpstream: 503,
		errorkind.ExecutionFailure:  503,
		errorkind.SafetyAbort:       500,
	}
	for kind, want := range cases {
		if got := errorkind.HTTPStatus(kind); got != want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", kind, got, want)
		}
	}
}

func TestKindOfDefaultsToExecutionFailure(t *testing.T) {
	plain := fmt.Errorf("unwrapped")
	if got := errorkind.KindOf(plain); got != errorkind.ExecutionFailure {
		t.Errorf("KindOf(plain) = %s, want ExecutionFailure", got)
	}
}
