package armstate

// State is the snapshot the arm daemon publishes for the web bridge,
// display, console and teach tools.
type State struct {
	Arm      []int  `json:"arm"`      // base, shoulder, elbow, wrist, gripper
	Channels []int  `json:"channels"` // all 16 channels of the bank
	Mode     string `json:"mode"`     // "idle", "sweeping", ...
	Running  bool   `json:"running"`  // worker gate open
	PlanLen  int    `json:"plan_len"`
	Time     string `json:"time"` // RFC3339
}
