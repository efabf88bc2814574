package main

import (
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/ipimonitor/ipi-api/internal/config"
	"github.com/ipimonitor/ipi-api/internal/model"
	"github.com/ipimonitor/ipi-api/internal/remote/pgstore"
	"github.com/ipimonitor/ipi-api/internal/service"
	"github.com/ipimonitor/ipi-api/migrations"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const readingsPerDevice = 50

func main() {
	// Load config
	cfg := config.Load()

	// Force DB logging off to avoid noise
	db, err := gorm.Open(postgres.Open(cfg.DB.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	log.Println("✅ Connected to Database")

	if err := migrations.Run(cfg.DB.URL()); err != nil {
		log.Printf("⚠️  Migration warning: %v, using AutoMigrate", err)
		if err := db.AutoMigrate(pgstore.Models()...); err != nil {
			log.Fatalf("❌ Failed to migrate database: %v", err)
		}
	}

	// Profiles link to auth identities; pass SEED_AUTH_USER to attach the
	// demo devices to an account that can actually sign in.
	authUser := os.Getenv("SEED_AUTH_USER")
	if authUser == "" {
		authUser = uuid.NewString()
		log.Printf("⚠️  SEED_AUTH_USER not set, using a detached identity %s", authUser)
	}

	user := seedUser(db, authUser)
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))

	log.Println("🌱 Seeding devices...")
	units := []model.TemperatureUnit{model.Celsius, model.Fahrenheit, model.Celsius}
	for i, unit := range units {
		device := seedDevice(db, user.UserID, i+1, unit)
		seedReadings(db, device, rnd)
	}

	log.Println("🎉 Seeding completed!")
}

func seedUser(db *gorm.DB, authUser string) model.AppUser {
	var existing model.AppUser
	if err := db.Where("auth_user = ?", authUser).First(&existing).Error; err == nil {
		log.Printf("🔄 Profile already exists: user %d", existing.UserID)
		return existing
	}

	first, last := "Demo", "Operator"
	user := model.AppUser{AuthUser: &authUser, FirstName: &first, LastName: &last}
	if err := db.Create(&user).Error; err != nil {
		log.Fatalf("❌ Failed to create profile: %v", err)
	}
	log.Printf("✅ Created profile: user %d", user.UserID)
	return user
}

func seedDevice(db *gorm.DB, userID int64, n int, unit model.TemperatureUnit) model.Device {
	id := fmt.Sprintf("AA:BB:CC:DD:EE:%02X", n)

	var existing model.Device
	if err := db.Where("device_id = ?", id).First(&existing).Error; err == nil {
		log.Printf("🔄 Device already exists: %s", id)
		return existing
	}

	now := time.Now().UTC()
	low, high := 15.0, 30.0
	if unit == model.Fahrenheit {
		low, high = 59, 86
	}
	device := model.Device{
		DeviceID:                 id,
		UserID:                   userID,
		DeviceName:               fmt.Sprintf("Sensor %d", n),
		Interval:                 300,
		TemperatureUnit:          unit,
		Battery:                  100 - float64(n)*7,
		LowTemperatureThreshold:  low,
		HighTemperatureThreshold: high,
		LowHumidityThreshold:     30,
		HighHumidityThreshold:    60,
		LastPolled:               now,
		LastUploaded:             now,
	}
	if err := db.Create(&device).Error; err != nil {
		log.Fatalf("❌ Failed to create device %s: %v", id, err)
	}
	log.Printf("✅ Created device: %s (%s)", id, unit)
	return device
}

func seedReadings(db *gorm.DB, device model.Device, rnd *rand.Rand) {
	var count int64
	db.Model(&model.Measurement{}).Where("device_id = ?", device.DeviceID).Count(&count)
	if count > 0 {
		log.Printf("🔄 %s already has %d readings", device.DeviceID, count)
		return
	}

	inputs := service.SampleReadings(readingsPerDevice, time.Now(), device.TemperatureUnit, rnd.Float64)
	rows := make([]model.Measurement, 0, len(inputs))
	for _, in := range inputs {
		rows = append(rows, model.Measurement{
			UserID:          device.UserID,
			DeviceID:        device.DeviceID,
			DateTime:        *in.DateTime,
			Temperature:     *in.Temperature,
			Humidity:        in.Humidity,
			DewPoint:        in.DewPoint,
			TemperatureUnit: device.TemperatureUnit,
		})
	}
	if err := db.CreateInBatches(rows, 100).Error; err != nil {
		log.Printf("❌ Failed to seed readings for %s: %v", device.DeviceID, err)
		return
	}
	log.Printf("✅ Seeded %d readings for %s", len(rows), device.DeviceID)
}
