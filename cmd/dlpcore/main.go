// Copyright (c) 2024 DLP Protocol
// This is an alpha (internal) release and is not suitable for production. This source code is provided 'as is' and no
// warranties are given as to title or non-infringement, merchantability or fitness for purpose and, to the extent
// permitted by law, all liability for your use of the code is disclaimed. This source code is governed by Apache
// License 2.0 that can be found in the LICENSE file.

// Usage:
//   dlpcore height --config-path=config.yaml
//   dlpcore entity 1
//   dlpcore epoch 3
//   dlpcore eligible

package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dlp-protocol/dlp-core/config"
	"github.com/dlp-protocol/dlp-core/db"
	"github.com/dlp-protocol/dlp-core/engine"
	"github.com/dlp-protocol/dlp-core/pkg/log"
)

var _configPath string

var rootCmd = &cobra.Command{
	Use:   "dlpcore",
	Short: "Inspect the state of the DLP reward engine",
}

var heightCmd = &cobra.Command{
	Use:   "height",
	Short: "Print the current block height and epoch",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(eng *engine.Engine) error {
			epochNum, err := eng.CurrentEpochNum()
			if err != nil {
				return err
			}
			fmt.Printf("height: %d\nepoch: %d\n", eng.Height(), epochNum)
			return nil
		})
	},
}

var entityCmd = &cobra.Command{
	Use:   "entity [id]",
	Short: "Print a registered DLP",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid entity id %s", args[0])
		}
		return withEngine(func(eng *engine.Engine) error {
			entity, err := eng.Entity(id)
			if err != nil {
				return err
			}
			eligible, err := eng.IsEligible(id)
			if err != nil {
				return err
			}
			fmt.Printf("id: %d\nname: %s\nowner: %s\nstatus: %s\nverified: %t\ndeposit: %s\neligible: %t\n",
				entity.ID, entity.Name, entity.Owner.Hex(), entity.Status, entity.Verified, entity.Deposit, eligible)
			return nil
		})
	},
}

var epochCmd = &cobra.Command{
	Use:   "epoch [num]",
	Short: "Print an epoch and its reward allocations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		epochNum, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid epoch number %s", args[0])
		}
		return withEngine(func(eng *engine.Engine) error {
			e, err := eng.EpochInfo(epochNum)
			if err != nil {
				return err
			}
			fmt.Printf("epoch: %d\nblocks: [%d, %d]\npool: %s\nallocated: %s\nfinalized: %t\n",
				e.ID, e.StartBlock, e.EndBlock, e.RewardPool, e.TotalAllocated, e.Finalized)
			for _, id := range e.ParticipantIDs {
				reward, err := eng.RewardInfo(epochNum, id)
				if err != nil {
					return err
				}
				fmt.Printf("  entity %d: reward %s penalty %s\n", id, reward.RewardAmount, reward.PenaltyAmount)
			}
			return nil
		})
	},
}

var eligibleCmd = &cobra.Command{
	Use:   "eligible",
	Short: "Print the ids of reward-eligible DLPs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(eng *engine.Engine) error {
			ids, err := eng.EligibleIDs()
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&_configPath, "config-path", "", "config file to overlay on the defaults")
	rootCmd.AddCommand(heightCmd)
	rootCmd.AddCommand(entityCmd)
	rootCmd.AddCommand(epochCmd)
	rootCmd.AddCommand(eligibleCmd)
}

// withEngine opens the engine read-only around fn. Treasury and swap oracle
// are never reached by queries, so none are wired.
func withEngine(fn func(*engine.Engine) error) error {
	cfg, err := config.New([]string{_configPath})
	if err != nil {
		return err
	}
	if err := log.InitLoggers(cfg.Log, cfg.SubLogs); err != nil {
		return err
	}
	eng, err := engine.New(cfg, db.NewBoltDB(cfg.DB.DbPath, cfg.DB.NumRetries), nil, nil)
	if err != nil {
		return err
	}
	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := eng.Stop(ctx); err != nil {
			log.L().Error("Failed to stop engine.", zap.Error(err))
		}
	}()
	return fn(eng)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
