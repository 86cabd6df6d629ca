package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"kanflow/internal/automation"
	"kanflow/internal/config"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var dispatchFlags struct {
	trigger   string
	board     string
	workspace string
	card      string
	list      string
	user      string
	context   string
	timeout   time.Duration
}

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Raise an automation trigger by hand",
	Example: `  kanflow dispatch --trigger CARD_MOVED --board b1 --card c1 --list done
  kanflow dispatch --trigger DUE_DATE_APPROACHING --board b1 --card c1
  kanflow dispatch --trigger COMMENT_ADDED --board b1 --context '{"cardId":"c1","commentText":"ship it"}'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		trigger := automation.TriggerType(dispatchFlags.trigger)
		if !trigger.IsValid() {
			return fmt.Errorf("unknown trigger %q (valid: %v)", dispatchFlags.trigger, automation.TriggerTypes())
		}
		if dispatchFlags.board == "" {
			return fmt.Errorf("--board is required")
		}

		var evt automation.EventContext
		if dispatchFlags.context != "" {
			if err := json.Unmarshal([]byte(dispatchFlags.context), &evt); err != nil {
				return fmt.Errorf("invalid --context: %w", err)
			}
		}
		if dispatchFlags.card != "" {
			evt.CardID = dispatchFlags.card
		}
		if dispatchFlags.list != "" {
			evt.ListID = dispatchFlags.list
			if trigger == automation.TriggerCardMoved {
				evt.DestinationListID = dispatchFlags.list
			}
		}
		if dispatchFlags.user != "" {
			evt.UserID = dispatchFlags.user
		}

		cfg, db := loadForCommand()
		s := buildStack(cfg, db, config.NewLogger())

		ctx, cancel := context.WithTimeout(cmd.Context(), dispatchFlags.timeout)
		defer cancel()
		if err := s.engine.Process(ctx, trigger, evt, dispatchFlags.board, dispatchFlags.workspace); err != nil {
			return err
		}
		logrus.Infof("Dispatched %s on board %s", trigger, dispatchFlags.board)
		return nil
	},
}

func init() {
	f := dispatchCmd.Flags()
	f.StringVar(&dispatchFlags.trigger, "trigger", "", "trigger type")
	f.StringVar(&dispatchFlags.board, "board", "", "board id")
	f.StringVar(&dispatchFlags.workspace, "workspace", "", "workspace id")
	f.StringVar(&dispatchFlags.card, "card", "", "card id")
	f.StringVar(&dispatchFlags.list, "list", "", "list id (destination list for CARD_MOVED)")
	f.StringVar(&dispatchFlags.user, "user", "", "acting user id")
	f.StringVar(&dispatchFlags.context, "context", "", "event context as JSON, e.g. '{\"commentText\":\"@amy\"}'")
	f.DurationVar(&dispatchFlags.timeout, "timeout", time.Minute, "overall dispatch timeout")
	_ = dispatchCmd.MarkFlagRequired("trigger")
	rootCmd.AddCommand(dispatchCmd)
}
