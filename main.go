package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/fang"
	"github.com/joho/godotenv"

	"github.com/lehigh-university-libraries/ocrworker/cmd"
	"github.com/lehigh-university-libraries/ocrworker/internal/utils"
)

func main() {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		utils.ExitOnError("Error loading .env file", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := fang.Execute(ctx, cmd.RootCmd); err != nil {
		stop()
		os.Exit(1)
	}
}
