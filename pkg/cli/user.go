package cli

import (
	"context"
	"fmt"
	"strings"

	urfave "github.com/urfave/cli/v3"
)

const phoneFlag = "phone"

type userResponse struct {
	OK    bool   `json:"ok" yaml:"ok"`
	ID    string `json:"id" yaml:"id"`
	Phone string `json:"phone,omitempty" yaml:"phone,omitempty"`
}

func (a *app) userCmd() *urfave.Command {
	return &urfave.Command{
		Name:      "user",
		Usage:     "Register a user and the phone number used for lookups",
		UsageText: `microscore user --id 6f1c2b7e --phone "+221 77 000 0001"`,
		Action:    a.cmdUser,
		Flags: []urfave.Flag{
			userIDFlag(),
			&urfave.StringFlag{
				Name:  phoneFlag,
				Usage: "Phone number in any format, empty to clear it",
			},
		},
	}
}

func (a *app) cmdUser(ctx context.Context, cmd *urfave.Command) error {
	d, err := a.getDeps(ctx)
	if err != nil {
		return err
	}

	id := strings.TrimSpace(cmd.String(idFlag))
	phone := strings.TrimSpace(cmd.String(phoneFlag))
	if err := d.store.SaveUser(ctx, id, phone); err != nil {
		return fmt.Errorf("saving user: %w", err)
	}
	return a.encode(userResponse{OK: true, ID: id, Phone: phone})
}
