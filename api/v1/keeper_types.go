package v1

import (
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// PerformOutcome describes what the last perform call did
type PerformOutcome string

const (
	OutcomePerformed PerformOutcome = "Performed"
	OutcomeSkipped   PerformOutcome = "Skipped"
	OutcomeFailed    PerformOutcome = "Failed"
)

// ConditionReady is the condition type reported on every reconcile.
const ConditionReady = "Ready"

// Condition reasons
const (
	ReasonPerformed     = "Performed"
	ReasonSkipped       = "Skipped"
	ReasonPerformFailed = "PerformFailed"
	ReasonSuspended     = "Suspended"
	ReasonVaultNotFound = "VaultNotFound"
)

// DefaultInterval is used when spec.interval is unset.
const DefaultInterval = time.Minute

// KeeperSpec defines which vaults a keeper maintains and how often.
type KeeperSpec struct {
	// Transmuter is the name of the registered transmuter vault backend
	Transmuter string `json:"transmuter"`
	// Alchemist is the name of the registered alchemist vault backend
	Alchemist string `json:"alchemist"`

	// Interval is the minimum time between two perform calls
	// +optional
	Interval *metav1.Duration `json:"interval,omitempty"`

	// Suspend stops the keeper from checking or performing upkeep
	// +optional
	Suspend bool `json:"suspend,omitempty"`
}

// KeeperStatus holds the rotation state and the result of the last perform.
type KeeperStatus struct {
	// CurrentTaskIndex is the index of the next task to attempt
	// +kubebuilder:validation:Minimum=0
	// +kubebuilder:validation:Maximum=2
	CurrentTaskIndex int32 `json:"currentTaskIndex"`

	LastTask        string         `json:"lastTask,omitempty"`
	LastOutcome     PerformOutcome `json:"lastOutcome,omitempty"`
	LastPerformTime *metav1.Time   `json:"lastPerformTime,omitempty"`
	Message         string         `json:"message,omitempty"`

	PerformedCount int64 `json:"performedCount,omitempty"`
	SkippedCount   int64 `json:"skippedCount,omitempty"`

	ObservedGeneration int64              `json:"observedGeneration,omitempty"`
	Conditions         []metav1.Condition `json:"conditions,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:printcolumn:name="Task",type=integer,JSONPath=`.status.currentTaskIndex`
// +kubebuilder:printcolumn:name="Last",type=string,JSONPath=`.status.lastOutcome`

// Keeper is the Schema for the keepers API
type Keeper struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   KeeperSpec   `json:"spec,omitempty"`
	Status KeeperStatus `json:"status,omitempty"`
}

// IntervalOrDefault returns spec.interval, falling back to DefaultInterval.
func (k *Keeper) IntervalOrDefault() metav1.Duration {
	if k.Spec.Interval == nil || k.Spec.Interval.Duration <= 0 {
		return metav1.Duration{Duration: DefaultInterval}
	}
	return *k.Spec.Interval
}

// +kubebuilder:object:root=true

// KeeperList contains a list of Keeper
type KeeperList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Keeper `json:"items"`
}

func init() {
	SchemeBuilder.Register(&Keeper{}, &KeeperList{})
}
