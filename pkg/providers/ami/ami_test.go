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

package ami

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

type fakeSSMAPI struct {
	calls int
	value string
	err   error
}

func (f *fakeSSMAPI) GetParameter(_ context.Context, _ *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	value := f.value
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Value: &value}}, nil
}

func TestResolveCachesAcrossCalls(t *testing.T) {
	api := &fakeSSMAPI{value: "ami-0123456789"}
	r := New(api)

	for i := 0; i < 3; i++ {
		ami, err := r.Resolve(context.Background(), "/aws/service/some/query")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if ami != "ami-0123456789" {
			t.Errorf("ami = %q, want ami-0123456789", ami)
		}
	}
	if api.calls != 1 {
		t.Errorf("calls = %d, want 1 (second/third call should hit cache)", api.calls)
	}
}

func TestResolveDistinctQueriesEachCallThrough(t *testing.T) {
	api := &fakeSSMAPI{value: "ami-abc"}
	r := New(api)

	if _, err := r.Resolve(context.Background(), "/query/one"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := r.Resolve(context.Background(), "/query/two"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if api.calls != 2 {
		t.Errorf("calls = %d, want 2", api.calls)
	}
}

func TestResolvePropagatesError(t *testing.T) {
	wantErr := errors.New("throttled")
	api := &fakeSSMAPI{err: wantErr}
	r := New(api)

	if _, err := r.Resolve(context.Background(), "/query"); err == nil {
		t.Fatal("expected error")
	}
}
