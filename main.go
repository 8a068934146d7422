package main

import (
	"github.com/cppla/habits/config"
	"github.com/cppla/habits/models"
	"github.com/cppla/habits/routes"
	"github.com/cppla/habits/utils"
)

func main() {
	cfg := config.Load()

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}
	defer func() { _ = utils.Logger.Sync() }()
	defer utils.CloseRedis()

	db := config.InitDatabase(&models.User{}, &models.Habit{}, &models.CheckIn{})

	r := routes.SetupRouter(db)

	utils.Sugar.Infof("Starting server on port %s (graceful), calendar timezone %s", cfg.AppPort, cfg.Location())
	if err := utils.GraceServer(":"+cfg.AppPort, r); err != nil {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}
