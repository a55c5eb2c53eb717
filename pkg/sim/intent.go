package sim

import "fmt"

// IntentKind tags an intent dispatched into the reducer.
type IntentKind string

const (
	IntentStartGame  IntentKind = "START_GAME"
	IntentPauseGame  IntentKind = "PAUSE_GAME"
	IntentResumeGame IntentKind = "RESUME_GAME"
	IntentSetSpeed   IntentKind = "SET_GAME_SPEED"

	// IntentTick is enqueued by the main tick timer.
	IntentTick IntentKind = "TICK"

	// IntentGenerateIncident is enqueued by the incident timer. Generation
	// runs inside the reducer so it always sees the latest snapshot.
	IntentGenerateIncident IntentKind = "GENERATE_INCIDENT"

	IntentSelectWorker   IntentKind = "SELECT_WORKER"
	IntentSelectIncident IntentKind = "SELECT_INCIDENT"

	IntentRestartFlyd     IntentKind = "RESTART_FLYD"
	IntentDrainWorker     IntentKind = "DRAIN_WORKER"
	IntentCheckContainerd IntentKind = "CHECK_CONTAINERD"
	IntentInspectLVM      IntentKind = "INSPECT_LVM"
	IntentInvestigate     IntentKind = "INVESTIGATE_INCIDENT"
	IntentViewLogs        IntentKind = "VIEW_FLYD_LOGS"
	IntentForceTransition IntentKind = "FORCE_FSM_TRANSITION"
	IntentQuickFix        IntentKind = "QUICK_FIX_INCIDENT"

	IntentAddIncident   IntentKind = "ADD_INCIDENT"
	IntentUpdateWorker  IntentKind = "UPDATE_WORKER"
	IntentClearFeedback IntentKind = "CLEAR_FEEDBACK"
	IntentShowFeedback  IntentKind = "SHOW_FEEDBACK"

	IntentMarkSeen     IntentKind = "MARK_INCIDENT_TYPE_SEEN"
	IntentNextTutorial IntentKind = "NEXT_TUTORIAL_STEP"
	IntentSkipTutorial IntentKind = "SKIP_TUTORIAL"
	IntentShowHelp     IntentKind = "SHOW_HELP"
	IntentHideHelp     IntentKind = "HIDE_HELP"
)

// IsAction reports whether the kind is a player remediation or diagnosis.
// Only actions are subject to guardrails and recorded in the audit trail.
func (k IntentKind) IsAction() bool {
	switch k {
	case IntentRestartFlyd, IntentDrainWorker, IntentCheckContainerd, IntentInspectLVM,
		IntentInvestigate, IntentViewLogs, IntentForceTransition, IntentQuickFix:
		return true
	}
	return false
}

// ClientIntents are the intents a remote player may send. Timer and
// injection intents are owned by the session.
var ClientIntents = []IntentKind{
	IntentStartGame,
	IntentPauseGame,
	IntentResumeGame,
	IntentSetSpeed,
	IntentSelectWorker,
	IntentSelectIncident,
	IntentRestartFlyd,
	IntentDrainWorker,
	IntentCheckContainerd,
	IntentInspectLVM,
	IntentInvestigate,
	IntentViewLogs,
	IntentForceTransition,
	IntentQuickFix,
	IntentClearFeedback,
	IntentMarkSeen,
	IntentNextTutorial,
	IntentSkipTutorial,
	IntentShowHelp,
	IntentHideHelp,
}

// IsClient reports whether k is one of ClientIntents.
func (k IntentKind) IsClient() bool {
	for _, c := range ClientIntents {
		if c == k {
			return true
		}
	}
	return false
}

func (k IntentKind) needsWorker() bool {
	switch k {
	case IntentRestartFlyd, IntentDrainWorker, IntentCheckContainerd, IntentInspectLVM,
		IntentUpdateWorker:
		return true
	}
	return false
}

func (k IntentKind) needsIncident() bool {
	switch k {
	case IntentInvestigate, IntentViewLogs, IntentForceTransition, IntentQuickFix:
		return true
	}
	return false
}

// WorkerUpdate is a partial update of a worker's subsystem fields.
type WorkerUpdate struct {
	Status           *WorkerStatus     `json:"status,omitempty"`
	FlydStatus       *FlydStatus       `json:"flydStatus,omitempty"`
	ContainerdHealth *ContainerdHealth `json:"containerdHealth,omitempty"`
	NetworkStatus    *NetworkStatus    `json:"networkStatus,omitempty"`
	ActiveMachines   *int              `json:"activeMachines,omitempty"`
}

// Intent is one tagged message for the reducer. Only the payload fields
// relevant to Kind are read.
type Intent struct {
	Kind IntentKind `json:"type"`

	WorkerID     string        `json:"workerId,omitempty"`
	IncidentID   string        `json:"incidentId,omitempty"`
	IncidentType IncidentType  `json:"incidentType,omitempty"`
	Incident     *Incident     `json:"incident,omitempty"`
	Update       *WorkerUpdate `json:"updates,omitempty"`
	Feedback     *Feedback     `json:"feedback,omitempty"`
	GameSpeed    float64       `json:"gameSpeed,omitempty"`
}

// Validate checks that the kind is known and its payload is present.
// The reducer itself tolerates bad intents as no-ops; Validate lets
// adapters reject them before they are queued.
func (in Intent) Validate() error {
	switch in.Kind {
	case IntentStartGame, IntentPauseGame, IntentResumeGame, IntentTick, IntentGenerateIncident,
		IntentSelectWorker, IntentSelectIncident, IntentClearFeedback,
		IntentNextTutorial, IntentSkipTutorial, IntentShowHelp, IntentHideHelp:
	case IntentSetSpeed:
		if !ValidGameSpeed(in.GameSpeed) {
			return NewInvalidError(fmt.Sprintf("game speed must be in (0, %g]", MaxGameSpeed), nil).WithCode(ErrCodeInvalidGameSpeed)
		}
	case IntentAddIncident:
		if in.Incident == nil {
			return NewInvalidError("incident payload required", nil).WithCode(ErrCodeMissingPayload)
		}
		if err := in.Incident.Type.Validate(); err != nil {
			return NewInvalidError("bad incident", err).WithCode(ErrCodeUnknownIncident)
		}
	case IntentShowFeedback:
		if in.Feedback == nil {
			return NewInvalidError("feedback payload required", nil).WithCode(ErrCodeMissingPayload)
		}
	case IntentMarkSeen:
		if err := in.IncidentType.Validate(); err != nil {
			return NewInvalidError("bad incident type", err).WithCode(ErrCodeUnknownIncident)
		}
	default:
		if !in.Kind.needsWorker() && !in.Kind.needsIncident() {
			return NewInvalidError(fmt.Sprintf("unknown intent %q", in.Kind), nil).WithCode(ErrCodeUnknownIntent)
		}
	}
	if in.Kind.needsWorker() && in.WorkerID == "" {
		return NewInvalidError(fmt.Sprintf("%s requires workerId", in.Kind), nil).WithCode(ErrCodeMissingPayload)
	}
	if in.Kind.needsIncident() && in.IncidentID == "" {
		return NewInvalidError(fmt.Sprintf("%s requires incidentId", in.Kind), nil).WithCode(ErrCodeMissingPayload)
	}
	if in.Kind == IntentUpdateWorker && in.Update == nil {
		return NewInvalidError("updates payload required", nil).WithCode(ErrCodeMissingPayload)
	}
	return nil
}

// Target returns the worker or incident the intent refers to.
func (in Intent) Target() string {
	if in.IncidentID != "" {
		return in.IncidentID
	}
	return in.WorkerID
}

// Constructors for the common intents.

// Tick returns the main timer intent.
func Tick() Intent {
	return Intent{Kind: IntentTick}
}

// GenerateIncidentIntent returns the incident timer intent.
func GenerateIncidentIntent() Intent {
	return Intent{Kind: IntentGenerateIncident}
}

func StartGame() Intent {
	return Intent{Kind: IntentStartGame}
}

func PauseGame() Intent {
	return Intent{Kind: IntentPauseGame}
}

func ResumeGame() Intent {
	return Intent{Kind: IntentResumeGame}
}

func RestartFlyd(workerID string) Intent {
	return Intent{Kind: IntentRestartFlyd, WorkerID: workerID}
}

func DrainWorker(workerID string) Intent {
	return Intent{Kind: IntentDrainWorker, WorkerID: workerID}
}

func CheckContainerd(workerID string) Intent {
	return Intent{Kind: IntentCheckContainerd, WorkerID: workerID}
}

func InspectLVM(workerID string) Intent {
	return Intent{Kind: IntentInspectLVM, WorkerID: workerID}
}

func Investigate(incidentID string) Intent {
	return Intent{Kind: IntentInvestigate, IncidentID: incidentID}
}

func ViewLogs(incidentID string) Intent {
	return Intent{Kind: IntentViewLogs, IncidentID: incidentID}
}

func ForceTransition(incidentID string) Intent {
	return Intent{Kind: IntentForceTransition, IncidentID: incidentID}
}

func QuickFixIncident(incidentID string) Intent {
	return Intent{Kind: IntentQuickFix, IncidentID: incidentID}
}

// AddIncident injects a prepared incident, e.g. from a drill.
func AddIncident(inc Incident) Intent {
	return Intent{Kind: IntentAddIncident, Incident: &inc}
}

// ShowFeedback replaces the feedback slot without touching game state.
func ShowFeedback(fb Feedback) Intent {
	return Intent{Kind: IntentShowFeedback, Feedback: &fb}
}
