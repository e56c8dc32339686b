package agent

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Command types.
const (
	TypeInit  = "init"
	TypeStep  = "step"
	TypeTrain = "train"
	TypeTest  = "test"
	TypeQuote = "quote"
)

// ErrAgent is wrapped by Decode when the agent answered ok:false.
var ErrAgent = errors.New("agent error")

// Command is one request to the agent. Only the fields of its Type are set.
type Command struct {
	Type string `json:"type"`

	// init
	StateDim   int    `json:"stateDim,omitempty"`
	ActionDim  int    `json:"actionDim,omitempty"`
	Checkpoint string `json:"checkpoint,omitempty"`

	// step
	State   []float64 `json:"state,omitempty"`
	Explore *bool     `json:"explore,omitempty"`

	// train
	Transitions []Transition `json:"transitions,omitempty"`
	Epochs      int          `json:"epochs,omitempty"`
	SavePath    string       `json:"savePath,omitempty"`

	// test
	States [][]float64 `json:"states,omitempty"`

	// quote
	Symbol string `json:"symbol,omitempty"`
}

// Transition is one replay sample for training.
type Transition struct {
	State     []float64 `json:"state"`
	Action    int       `json:"action"`
	Reward    float64   `json:"reward"`
	NextState []float64 `json:"next_state"`
	Done      float64   `json:"done"`
}

// MarshalJSON writes state on step commands even when it is empty.
func (c Command) MarshalJSON() ([]byte, error) {
	type plain Command
	if c.Type != TypeStep {
		return json.Marshal(plain(c))
	}
	state := c.State
	if state == nil {
		state = []float64{}
	}
	return json.Marshal(struct {
		plain
		State []float64 `json:"state"`
	}{plain(c), state})
}

// InitCommand loads or creates a model with the given dimensions.
func InitCommand(stateDim, actionDim int, checkpoint string) Command {
	return Command{Type: TypeInit, StateDim: stateDim, ActionDim: actionDim, Checkpoint: checkpoint}
}

// StepCommand asks for an action for state.
func StepCommand(state []float64, explore bool) Command {
	return Command{Type: TypeStep, State: state, Explore: &explore}
}

// TrainCommand trains on transitions. epochs < 1 means 1.
func TrainCommand(transitions []Transition, epochs int, savePath string) Command {
	if epochs < 1 {
		epochs = 1
	}
	return Command{Type: TypeTrain, Transitions: transitions, Epochs: epochs, SavePath: savePath}
}

// TestCommand runs inference over a batch of states.
func TestCommand(states [][]float64) Command {
	return Command{Type: TypeTest, States: states}
}

// QuoteCommand fetches a real-time quote through the agent.
func QuoteCommand(symbol string) Command {
	return Command{Type: TypeQuote, Symbol: symbol}
}

// Response is the agent's answer.
type Response struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Failed builds an ok:false response.
func Failed(msg string) Response {
	return Response{OK: false, Error: msg}
}

// Decode unmarshals Data into v. It returns an error wrapping ErrAgent if the
// response is not ok.
func (r Response) Decode(v any) error {
	if !r.OK {
		msg := r.Error
		if msg == "" {
			msg = "agent error"
		}
		return fmt.Errorf("%w: %s", ErrAgent, msg)
	}
	if len(r.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("decode agent data: %w", err)
	}
	return nil
}

// StepResult is the data of a step response.
type StepResult struct {
	Action  int       `json:"action"`
	QValues []float64 `json:"q_values"`
}

// TrainResult is the data of a train response.
type TrainResult struct {
	Epochs  int     `json:"epochs"`
	AvgLoss float64 `json:"avg_loss"`
	Steps   int     `json:"steps"`
	Saved   string  `json:"saved,omitempty"`
}

// TestResult is the data of a test response.
type TestResult struct {
	Actions []int       `json:"actions"`
	QValues [][]float64 `json:"q_values"`
}

// QuoteResult is the data of a quote response.
type QuoteResult struct {
	Symbol   string  `json:"symbol"`
	Provider string  `json:"provider"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency,omitempty"`
}
