package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/abiosoft/ishell"
	"github.com/gn10/mdnode/pkg/gateway"
	"github.com/gn10/mdnode/pkg/protocol"
	"github.com/gn10/mdnode/pkg/state"
)

var errUsage = errors.New("wrong number of arguments")

// Operations of the shell, served by the local master or by a remote gateway
type boards interface {
	SendConfig(id uint8, cfg protocol.MotorConfig) error
	SendTarget(id uint8, value float32) error
	SendMultiTarget(group uint8, values ...float32) error
	SendGain(id uint8, ch protocol.GainChannel, value float32) error
	SendCommand(id uint8, cmd protocol.Command, arg uint8) error
	Boards() ([]gateway.BoardStatus, error)
}

type localBoards struct {
	gw *gateway.BaseGateway
}

func (l localBoards) SendConfig(id uint8, cfg protocol.MotorConfig) error {
	return l.gw.Configure(id, cfg)
}

func (l localBoards) SendTarget(id uint8, value float32) error {
	return l.gw.Target(id, value)
}

func (l localBoards) SendMultiTarget(group uint8, values ...float32) error {
	return l.gw.GroupTargets(group, values)
}

func (l localBoards) SendGain(id uint8, ch protocol.GainChannel, value float32) error {
	return l.gw.Gain(id, ch, value)
}

func (l localBoards) SendCommand(id uint8, cmd protocol.Command, arg uint8) error {
	return l.gw.Command(id, cmd, arg)
}

func (l localBoards) Boards() ([]gateway.BoardStatus, error) {
	return l.gw.Boards(), nil
}

type console struct {
	boards   boards
	defaults protocol.MotorConfig
}

func parseFloat(s string) (float32, error) {
	v, err := strconv.ParseFloat(s, 32)
	return float32(v), err
}

func parseUint8(s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	return uint8(v), err
}

// config <id> [max_output max_accel control_ms encoder_ms encoder_type limit_behavior]
func (c *console) config(args []string) error {
	if len(args) != 1 && len(args) != 7 {
		return errUsage
	}
	id, err := gateway.ParseBoardId(args[0])
	if err != nil {
		return err
	}
	cfg := c.defaults
	if len(args) == 7 {
		maxOutput, err := strconv.ParseUint(args[1], 0, 16)
		if err != nil {
			return err
		}
		cfg.MaxOutput = uint16(maxOutput)
		fields := []*uint8{&cfg.MaxAcceleration, &cfg.ControlPeriodMs, &cfg.EncoderPeriodMs, nil, &cfg.LimitSwitchBehavior}
		for i, field := range fields {
			v, err := parseUint8(args[2+i])
			if err != nil {
				return err
			}
			if field == nil {
				cfg.EncoderType = protocol.EncoderType(v)
				continue
			}
			*field = v
		}
	}
	return c.boards.SendConfig(id, cfg)
}

// target <id> <value>
func (c *console) target(args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	id, err := gateway.ParseBoardId(args[0])
	if err != nil {
		return err
	}
	value, err := parseFloat(args[1])
	if err != nil {
		return err
	}
	return c.boards.SendTarget(id, value)
}

// multi <group> <value>...
func (c *console) multi(args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	group, err := parseUint8(args[0])
	if err != nil {
		return err
	}
	values := make([]float32, len(args)-1)
	for i, arg := range args[1:] {
		if values[i], err = parseFloat(arg); err != nil {
			return err
		}
	}
	return c.boards.SendMultiTarget(group, values...)
}

// gain <id> <p|i|d> <value>
func (c *console) gain(args []string) error {
	if len(args) != 3 {
		return errUsage
	}
	id, err := gateway.ParseBoardId(args[0])
	if err != nil {
		return err
	}
	ch, err := gateway.ParseGainChannel(args[1])
	if err != nil {
		return err
	}
	value, err := parseFloat(args[2])
	if err != nil {
		return err
	}
	return c.boards.SendGain(id, ch, value)
}

// <command> <id>
func (c *console) command(cmd protocol.Command) func(args []string) error {
	return func(args []string) error {
		if len(args) != 1 {
			return errUsage
		}
		id, err := gateway.ParseBoardId(args[0])
		if err != nil {
			return err
		}
		return c.boards.SendCommand(id, cmd, 0)
	}
}

// mode <id> <duty|velocity|position>
func (c *console) mode(args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	id, err := gateway.ParseBoardId(args[0])
	if err != nil {
		return err
	}
	mode, err := state.ParseControlMode(args[1])
	if err != nil {
		return err
	}
	return c.boards.SendCommand(id, protocol.CommandSetMode, uint8(mode))
}

// show [id]
func (c *console) show(args []string) (string, error) {
	if len(args) > 1 {
		return "", errUsage
	}
	statuses, err := c.boards.Boards()
	if err != nil {
		return "", err
	}
	var id = -1
	if len(args) == 1 {
		parsed, err := gateway.ParseBoardId(args[0])
		if err != nil {
			return "", err
		}
		id = int(parsed)
	}
	out := &strings.Builder{}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tONLINE\tWAIT_CONFIG\tFEEDBACK\tLIMIT\tCURRENT\tTEMP\tKP\tKI\tKD")
	for _, s := range statuses {
		if id >= 0 && int(s.ID) != id {
			continue
		}
		fmt.Fprintf(w, "%d\t%v\t%v\t%.2f\t%02b\t%.2f\t%d\t%g\t%g\t%g\n",
			s.ID, s.Online, s.WaitConfig, s.Feedback, s.LimitSwitch, s.LoadCurrent, s.Temperature,
			s.Gains.Kp, s.Gains.Ki, s.Gains.Kd)
	}
	w.Flush()
	return out.String(), nil
}

func action(help string, run func(args []string) error) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if err := run(c.Args); err != nil {
			if errors.Is(err, errUsage) {
				c.Err(fmt.Errorf("%v, usage : %v", err, help))
				return
			}
			c.Err(err)
			return
		}
		c.Println("OK")
	}
}

func (c *console) register(shell *ishell.Shell) {
	commands := []struct {
		name string
		help string
		run  func(args []string) error
	}{
		{"config", "config <id> [max_output max_accel control_ms encoder_ms encoder_type limit_behavior]", c.config},
		{"target", "target <id> <value>", c.target},
		{"multi", "multi <group> <value>...", c.multi},
		{"gain", "gain <id> <p|i|d> <value>", c.gain},
		{"start", "start <id>", c.command(protocol.CommandStart)},
		{"stop", "stop <id>", c.command(protocol.CommandStop)},
		{"clear", "clear <id>", c.command(protocol.CommandClearError)},
		{"reset", "reset <id>, resets the encoder counts", c.command(protocol.CommandResetEncoder)},
		{"mode", "mode <id> <duty|velocity|position>", c.mode},
	}
	for _, cmd := range commands {
		shell.AddCmd(&ishell.Cmd{Name: cmd.name, Help: cmd.help, Func: action(cmd.help, cmd.run)})
	}
	shell.AddCmd(&ishell.Cmd{
		Name: "show",
		Help: "show [id]",
		Func: func(ctx *ishell.Context) {
			table, err := c.show(ctx.Args)
			if err != nil {
				ctx.Err(err)
				return
			}
			ctx.Print(table)
		},
	})
}
