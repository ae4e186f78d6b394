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

// Verdict is the decision the pipeline renders for one run. It is computed
// fresh on every invocation and never mutated afterward (§3.5).
type Verdict string

const (
	VerdictStay     Verdict = "STAY"
	VerdictSwitch   Verdict = "SWITCH"
	VerdictDrain    Verdict = "DRAIN"
	VerdictEvacuate Verdict = "EVACUATE"
)

// InputMode selects the Input Adapter (§4.3.1).
type InputMode string

const (
	InputModeTest InputMode = "test"
	InputModeK8s  InputMode = "k8s"
)

// AWSSignal is the result of polling the local instance-metadata service
// (§4.1 SignalProvider, §6.2).
type AWSSignal string

const (
	SignalNone        AWSSignal = "NONE"
	SignalRebalance   AWSSignal = "REBALANCE"
	SignalTermination AWSSignal = "TERMINATION"
)
