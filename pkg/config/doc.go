// Package config loads ptbhub configuration from the environment.
//
// Every setting has a default so a development server starts with only
// SECRET_KEY set. Optional inputs:
//
//   - .env files, loaded by LoadDotEnv before LoadConfig
//   - PTBHUB_CONFIG_FILE, a YAML document whose "permissions" section extends
//     the resource alias and default policy tables
//
// SMB_* variables are the fallback share used when no SMB configuration row
// is active. EXCEL_TEMP_ONLY renders workbooks to a temporary directory only.
package config
