package main

import (
	"time"

	"github.com/Reenniizz/StartupMatch-sub003/internal/config"
	"github.com/Reenniizz/StartupMatch-sub003/internal/directory"
	"github.com/Reenniizz/StartupMatch-sub003/internal/dispatcher"
	"github.com/Reenniizz/StartupMatch-sub003/internal/event"
	"github.com/Reenniizz/StartupMatch-sub003/internal/logger"
	"github.com/Reenniizz/StartupMatch-sub003/internal/server"
	"github.com/Reenniizz/StartupMatch-sub003/internal/utils"
)

func main() {
	conf, err := config.ReadConfig()
	if err != nil {
		logger.FatalF("Error occured while reading config %v", err)
		return
	}
	loggerCallback := logger.Init()
	logger.Debug("Application initializing...")
	cleaner := event.NewCleaner()
	cleaner.Init(loggerCallback)
	defer cleaner.Clean()

	dir, err := directory.NewFromConfig()
	if err != nil {
		logger.FatalF("Error occured while initializing session directory, details: %v", err)
		return
	}

	d := dispatcher.New(dispatcher.Options{
		TypingTTL: utils.ParseStringTimeOr(conf.Realtime.TypingTTL, 3*time.Second),
		Directory: dir,
	})
	auth := server.NewHMACAuthenticator(conf.Realtime.AuthSecret)

	server.StartServer(conf.AppPort, d, auth)
}
