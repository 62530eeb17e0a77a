package app

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/servo_arm/internal/arm"
	"github.com/relabs-tech/servo_arm/internal/armstate"
	"github.com/relabs-tech/servo_arm/internal/command"
	"github.com/relabs-tech/servo_arm/internal/config"
)

const (
	teachHeaderHeight = 3 // title + status + blank line
	teachLegendHeight = 2
	teachFooterHeight = 7
	teachBorderSize   = 2
	teachMaxLogs      = 5

	defaultJogStep = 5
	maxJogStep     = 45
)

var jointColors = [arm.NumJoints]string{
	"196", // base, red
	"208", // shoulder, orange
	"226", // elbow, yellow
	"46",  // wrist, green
	"201", // gripper, magenta
}

var (
	teachTitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	teachChartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	teachStatusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	teachSelectStyle = lipgloss.NewStyle().Bold(true).Reverse(true)
)

const teachHelp = "1-5 joint  ←/→ jog  +/- step  r record  w save  n new  p play  space stop  h home  o/c gripper  q quit"

type teachStateMsg armstate.State
type teachReplyMsg command.Reply

// teachModel is a terminal pendant: jog joints, record the pose into the
// plan and play it back, all through the arm daemon's command topic.
type teachModel struct {
	send    func(command.Command) error
	states  <-chan armstate.State
	replies <-chan command.Reply

	chart    *streamlinechart.Model
	width    int
	height   int
	joint    int
	step     int
	state    armstate.State
	have     bool
	logs     []string
	nextID   int
	quitting bool
}

func newTeachModel(send func(command.Command) error, states <-chan armstate.State, replies <-chan command.Reply) teachModel {
	chart := streamlinechart.New(80, 20,
		streamlinechart.WithYRange(0, 180),
	)
	for j := 0; j < arm.NumJoints; j++ {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(jointColors[j]))
		chart.SetDataSetStyles(arm.JointName(j), runes.ThinLineStyle, style)
	}
	return teachModel{
		send:    send,
		states:  states,
		replies: replies,
		chart:   &chart,
		joint:   arm.Shoulder,
		step:    defaultJogStep,
	}
}

func waitForArmState(ch <-chan armstate.State) tea.Cmd {
	return func() tea.Msg {
		return teachStateMsg(<-ch)
	}
}

func waitForReply(ch <-chan command.Reply) tea.Cmd {
	return func() tea.Msg {
		return teachReplyMsg(<-ch)
	}
}

func (m *teachModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > teachMaxLogs {
		m.logs = m.logs[len(m.logs)-teachMaxLogs:]
	}
}

func (m *teachModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 20
	}
	width = m.width - teachBorderSize - 2
	if width < 40 {
		width = 40
	}
	height = m.height - teachHeaderHeight - teachLegendHeight - teachFooterHeight - teachBorderSize
	if height < 10 {
		height = 10
	}
	return width, height
}

// keyCommand maps a key to the command it sends. Jogging needs a known pose.
func keyCommand(key string, joint, step int, st armstate.State, have bool) (command.Command, bool) {
	switch key {
	case "h":
		return command.Command{Action: command.Home}, true
	case "o":
		return command.Command{Action: command.OpenGripper}, true
	case "c":
		return command.Command{Action: command.CloseGripper}, true
	case "r":
		return command.Command{Action: command.PlanAppend}, true
	case "w":
		return command.Command{Action: command.PlanSave}, true
	case "n":
		return command.Command{Action: command.PlanNew}, true
	case "p":
		return command.Command{Action: command.PlanStart}, true
	case "i":
		return command.Command{Action: command.Init}, true
	case " ", "s":
		return command.Command{Action: command.Stop}, true
	case "left", "right":
		if !have || joint >= len(st.Arm) {
			return command.Command{}, false
		}
		delta := step
		if key == "left" {
			delta = -step
		}
		angle := float64(st.Arm[joint] + delta)
		return command.Command{Action: command.Joint, Joint: arm.JointName(joint), Angle: &angle}, true
	}
	return command.Command{}, false
}

func (m teachModel) Init() tea.Cmd {
	return tea.Batch(
		waitForArmState(m.states),
		waitForReply(m.replies),
	)
}

func (m teachModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.chart.Resize(m.chartSize())
		return m, nil

	case tea.KeyMsg:
		key := msg.String()
		switch key {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "1", "2", "3", "4", "5":
			m.joint = int(key[0] - '1')
			return m, nil
		case "up", "tab":
			m.joint = (m.joint + arm.NumJoints - 1) % arm.NumJoints
			return m, nil
		case "down", "shift+tab":
			m.joint = (m.joint + 1) % arm.NumJoints
			return m, nil
		case "+", "=":
			m.step = min(m.step*2, maxJogStep)
			return m, nil
		case "-":
			m.step = max(m.step/2, 1)
			return m, nil
		}
		c, ok := keyCommand(key, m.joint, m.step, m.state, m.have)
		if !ok {
			return m, nil
		}
		m.nextID++
		c.ID = fmt.Sprintf("teach-%d", m.nextID)
		if err := m.send(c); err != nil {
			m.addLog(fmt.Sprintf("send %s: %v", c.Action, err))
		}
		return m, nil

	case teachStateMsg:
		st := armstate.State(msg)
		if !m.have || !equalInts(st.Arm, m.state.Arm) {
			for j, v := range st.Arm {
				if j < arm.NumJoints {
					m.chart.PushDataSet(arm.JointName(j), float64(v))
				}
			}
			m.chart.DrawAll()
		}
		m.state = st
		m.have = true
		return m, waitForArmState(m.states)

	case teachReplyMsg:
		r := command.Reply(msg)
		if !r.OK {
			m.addLog(formatReply(r))
		}
		return m, waitForReply(m.replies)
	}

	return m, nil
}

func (m teachModel) View() string {
	if m.quitting {
		return "Teach pendant closed.\n"
	}

	var sb strings.Builder

	sb.WriteString(teachTitleStyle.Render("Servo Arm Teach"))
	sb.WriteString(teachStatusStyle.Render(fmt.Sprintf("  step %d°", m.step)))
	sb.WriteString("\n")
	if m.have {
		sb.WriteString(fmt.Sprintf("mode %s  plan %d entries", m.state.Mode, m.state.PlanLen))
	} else {
		sb.WriteString(teachStatusStyle.Render("waiting for arm state..."))
	}
	sb.WriteString("\n\n")

	sb.WriteString(teachChartStyle.Render(m.chart.View()))
	sb.WriteString("\n")

	sb.WriteString(m.renderLegend())
	sb.WriteString("\n")

	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(max(m.width-4, 20)).
		Foreground(lipgloss.Color("9"))

	logLines := teachStatusStyle.Render(teachHelp)
	if len(m.logs) > 0 {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func (m teachModel) renderLegend() string {
	items := make([]string, 0, arm.NumJoints)
	for j := 0; j < arm.NumJoints; j++ {
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(jointColors[j])).Bold(true)
		label := fmt.Sprintf("%d %s", j+1, arm.JointName(j))
		if m.have && j < len(m.state.Arm) {
			label += fmt.Sprintf(" %3d", m.state.Arm[j])
		}
		if j == m.joint {
			label = teachSelectStyle.Render(label)
		}
		items = append(items, colorStyle.Render("━━")+" "+label)
	}
	return strings.Join(items, "  ")
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// RunTeach runs the terminal teach pendant against the arm daemon.
func RunTeach() error {
	cfg := config.Get()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDTeach).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Printf("teach: connected to MQTT broker at %s", cfg.MQTTBroker)

	states := make(chan armstate.State, 8)
	replies := make(chan command.Reply, 8)

	token := client.Subscribe(cfg.TopicState, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var st armstate.State
		if err := json.Unmarshal(msg.Payload(), &st); err != nil {
			return
		}
		select {
		case states <- st:
		default:
		}
	})
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}

	token = client.Subscribe(cfg.TopicReply, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var r command.Reply
		if err := json.Unmarshal(msg.Payload(), &r); err != nil {
			return
		}
		select {
		case replies <- r:
		default:
		}
	})
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}

	send := func(c command.Command) error {
		payload, err := json.Marshal(c)
		if err != nil {
			return err
		}
		token := client.Publish(cfg.TopicCommand, 0, false, payload)
		token.Wait()
		return token.Error()
	}

	p := tea.NewProgram(newTeachModel(send, states, replies), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("teach: %w", err)
	}
	return nil
}
