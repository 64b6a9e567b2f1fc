package main

import (
	"github.com/spf13/cobra"
)

type globalOptions struct {
	grpcAddr string
	httpAddr string
	userID   string
}

func RootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "menuscanctl",
		Short:         "Operate and benchmark the menu-safety scan service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.grpcAddr, "grpc-addr", "localhost:8080", "menuscand gRPC address")
	root.PersistentFlags().StringVar(&opts.httpAddr, "http-addr", "http://localhost:8081", "menuscand HTTP base URL")
	root.PersistentFlags().StringVar(&opts.userID, "user", "", "user id sent with requests")

	root.AddCommand(ScanCmd(opts))
	root.AddCommand(MetricsCmd(opts))
	root.AddCommand(OptimizeCmd())
	root.AddCommand(TimingCmd())
	return root
}
