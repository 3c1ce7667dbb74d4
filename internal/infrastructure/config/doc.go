// Package config loads tempsys settings.
//
// Sources, later wins: built-in defaults, the YAML file, then TEMPSYS_*
// environment variables. A .env file (TEMPSYS_ENV_FILE, default ".env")
// is read first and never replaces a variable that is already set. Load
// returns every validation problem at once.
//
// Keep secrets out of the YAML: TEMPSYS_JWT_SECRET (32+ characters),
// TEMPSYS_DATABASE_URL, TEMPSYS_SMTP_PASSWORD, TEMPSYS_MQTT_PASSWORD and
// TEMPSYS_INFLUXDB_TOKEN.
package config
