// Package models defines the persisted entities and tagged variants shared by
// the ptbhub services. Types here carry no behaviour beyond small derived
// accessors and validation of their own enums.
package models
