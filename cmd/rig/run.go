package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/danielpatrickdp/puffrig/go-controller/internal/control"
	"github.com/danielpatrickdp/puffrig/go-controller/internal/logging"
	"github.com/danielpatrickdp/puffrig/go-controller/internal/orchestrator"
)

var (
	runSubject   string
	runDummy     bool
	runLickRate  float64
	runAutostart bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one training session",
	Long: `Prepare the session (store, saver, streams, clock sync), then deliver trials
until killed. Operator commands are read from stdin, one per line, and from the
control service when control.addr is set:

  start pause unpause kill level_up level_down lock unlock
  reward_l reward_r trial light_on light_off
  note:<text> mask:<x,y x,y x,y ...> (mask: alone selects the whole frame)

Examples:
  rig run --dummy --subject m12 --autostart
  rig run --config rig.yaml --subject m12`,
	RunE: runSession,
}

func init() {
	runCmd.Flags().StringVar(&runSubject, "subject", "", "subject id (overrides config and RIG_SUBJECT)")
	runCmd.Flags().BoolVar(&runDummy, "dummy", false, "use simulated hardware")
	runCmd.Flags().Float64Var(&runLickRate, "lick-rate", 0.5, "simulated licks per second with --dummy")
	runCmd.Flags().BoolVar(&runAutostart, "autostart", false, "start delivering trials without waiting for 'start'")
	rootCmd.AddCommand(runCmd)
}

// #region run

func runSession(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runSubject != "" {
		cfg.Session.Subject = runSubject
	}
	if !runDummy {
		return errors.New("no hardware driver is built in; run with --dummy")
	}

	log, err := logging.New(cfg.Session.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	o, err := orchestrator.New(cfg, orchestrator.DummyHardware(cfg, runLickRate), log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := o.Prepare(ctx); err != nil {
		return fmt.Errorf("prepare session: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Session ready: %s\n", o.Path())

	if cfg.Control.Addr != "" {
		go func() {
			if err := control.ListenAndServe(ctx, cfg.Control.Addr, o, log.Named("control")); err != nil {
				log.Errorw("control service stopped", "error", err)
			}
		}()
	}
	go operatorLoop(cmd.InOrStdin(), cmd.OutOrStdout(), control.NewService(o, log.Named("control")), o, log)

	if runAutostart {
		o.Start()
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "Type 'start' to begin (or 'quit' to end the session):")
	}

	runErr := o.Run(ctx)
	st := o.Status()
	fmt.Fprintf(cmd.OutOrStdout(), "Session %s: %d trials, saved to %s\n", st.State, st.Trial.Trials, st.Path)
	return runErr
}

// #endregion run

// #region operator-loop

// operatorLoop reads commands line by line until EOF. quit and exit kill the
// session.
func operatorLoop(in io.Reader, out io.Writer, svc *control.Service, o *orchestrator.Orchestrator, log *zap.SugaredLogger) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "quit", "exit":
			o.Kill()
			return
		case "status":
			st := o.Status()
			fmt.Fprintf(out, "[%s] phase=%s level=%d/%d trials=%d gate=%q\n",
				st.State, st.Phase, st.Trial.Level, st.Trial.Levels, st.Trial.Trials, st.Gate)
			continue
		}
		resp, err := svc.Command(context.Background(), wrapperspb.String(line))
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		if changed, ok := resp.AsMap()["changed"]; ok {
			fmt.Fprintf(out, "%s changed=%v\n", line, changed)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Warnw("operator input closed", "error", err)
	}
}

// #endregion operator-loop
